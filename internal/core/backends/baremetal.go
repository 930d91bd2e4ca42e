package backends

import (
	"context"
	"fmt"
	"time"

	"github.com/theblitlabs/parity-server/internal/agentchannel"
	"github.com/theblitlabs/parity-server/internal/core/apierr"
	"github.com/theblitlabs/parity-server/internal/core/models"
)

// BareMetal has no snapshot capability; reset and cleanup run as shell
// commands over the agent channel instead of a hypervisor rollback.
type BareMetal struct {
	hub *agentchannel.Hub
}

func NewBareMetal(hub *agentchannel.Hub) *BareMetal {
	return &BareMetal{hub: hub}
}

func (b *BareMetal) CreateCheckpoint(ctx context.Context, runner *models.Runner, name string) error {
	return nil
}

func (b *BareMetal) Reset(ctx context.Context, runner *models.Runner, name string, status models.FinalizeStatus) error {
	if status != models.FinalizeSuccess {
		if runner.ResetCmd == "" {
			return fmt.Errorf("reset command not configured for runner %s", runner.RunnerID)
		}
		res, err := b.hub.Exec(ctx, runner.RunnerID, runner.ResetCmd, 120*time.Second)
		if err != nil {
			return fmt.Errorf("reset command: %w", err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("reset command exited with code %d", res.ExitCode)
		}
	}
	if runner.CleanupCmd != "" {
		if _, err := b.hub.Exec(ctx, runner.RunnerID, runner.CleanupCmd, 60*time.Second); err != nil {
			return fmt.Errorf("cleanup command: %w", err)
		}
	}
	return nil
}

func (b *BareMetal) ReadinessWait(ctx context.Context, runner *models.Runner, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.hub.IsConnected(runner.RunnerID) {
			if runner.ReadinessCmd == "" {
				return nil
			}
			if _, err := b.hub.Exec(ctx, runner.RunnerID, runner.ReadinessCmd, 30*time.Second); err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return &apierr.ReadinessTimeoutError{Msg: fmt.Sprintf("runner %s did not become ready within %s", runner.RunnerID, timeout)}
}
