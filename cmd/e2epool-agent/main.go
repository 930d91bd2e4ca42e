// Command e2epool-agent is the runner-host daemon: it keeps a persistent
// WebSocket connection to the e2epool controller and exposes a local
// Unix-socket CLI (create/finalize/status) that CI job scripts invoke,
// mirroring the controller binary's cobra-subcommand shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/agentclient"
	"github.com/theblitlabs/parity-server/internal/ipc"
)

const defaultSocketPath = "/run/e2epool-agent.sock"

var (
	controllerURL string
	runnerID      string
	token         string
	socketPath    string
	logMode       string
)

var rootCmd = &cobra.Command{
	Use:   "e2epool-agent",
	Short: "e2epool runner-host agent",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch logMode {
		case "debug", "pretty", "info", "prod", "test":
			gologger.InitWithMode(gologger.LogMode(logMode))
		default:
			gologger.InitWithMode(gologger.LogModePretty)
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent daemon (blocks until terminated)",
	Run: func(cmd *cobra.Command, args []string) {
		log := gologger.WithComponent("e2epool-agent")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		agent := agentclient.New(agentclient.Config{
			ControllerURL:     controllerURL,
			RunnerID:          runnerID,
			Token:             token,
			SocketPath:        socketPath,
			HeartbeatInterval: 15 * time.Second,
			ReconnectMinDelay: time.Second,
			ReconnectMaxDelay: 60 * time.Second,
			RPCTimeout:        30 * time.Second,
		})

		go func() {
			<-ctx.Done()
			log.Info().Msg("shutting down agent")
			agent.Stop()
		}()

		if err := agent.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("agent exited")
		}
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Ask the controller to create a checkpoint for this runner",
	Run: func(cmd *cobra.Command, args []string) {
		jobID, _ := cmd.Flags().GetString("job-id")
		runIPCCommand(map[string]any{"type": "create", "job_id": jobID})
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Queue finalize for the current checkpoint",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("checkpoint")
		status, _ := cmd.Flags().GetString("status")
		runIPCCommand(map[string]any{"type": "finalize", "checkpoint_name": name, "status": status})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print checkpoint status",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("checkpoint")
		runIPCCommand(map[string]any{"type": "status", "checkpoint_name": name})
	},
}

func runIPCCommand(req map[string]any) {
	client := ipc.NewClient(socketPath, 30*time.Second)
	resp, err := client.Request(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error talking to agent: %v\n", err)
		os.Exit(1)
	}
	if status, _ := resp["status"].(string); status == "error" {
		fmt.Fprintf(os.Stderr, "agent error: %v\n", resp["error"])
		os.Exit(1)
	}
	fmt.Printf("%v\n", resp["data"])
}

func main() {
	rootCmd.PersistentFlags().StringVar(&logMode, "log", "pretty", "Log mode: debug, pretty, info, prod, test")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath, "Path to the agent's Unix domain socket")

	runCmd.Flags().StringVar(&controllerURL, "controller-url", "", "Controller WebSocket URL (ws://host:port/ws/agent)")
	runCmd.Flags().StringVar(&runnerID, "runner-id", "", "This runner's registered runner_id")
	runCmd.Flags().StringVar(&token, "token", "", "This runner's registration token")
	for _, flag := range []string{"controller-url", "runner-id", "token"} {
		if err := runCmd.MarkFlagRequired(flag); err != nil {
			log := gologger.WithComponent("e2epool-agent")
			log.Fatal().Err(err).Msg("marking flag required")
		}
	}

	createCmd.Flags().String("job-id", "", "CI job id to associate with the new checkpoint")
	_ = createCmd.MarkFlagRequired("job-id")

	finalizeCmd.Flags().String("checkpoint", "", "Checkpoint name")
	finalizeCmd.Flags().String("status", "success", "Job outcome: success, failure, or canceled")
	_ = finalizeCmd.MarkFlagRequired("checkpoint")

	statusCmd.Flags().String("checkpoint", "", "Checkpoint name")
	_ = statusCmd.MarkFlagRequired("checkpoint")

	rootCmd.AddCommand(runCmd, createCmd, finalizeCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
