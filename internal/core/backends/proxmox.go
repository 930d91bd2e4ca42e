// Package backends implements ports.Backend for each supported runner
// class: hypervisor (Proxmox snapshot rollback) and bare-metal (agent
// shell commands). Sequencing is grounded on the Python original's
// backends/proxmox.py and backends/bare_metal.py; the Go port expresses
// polling with context-aware loops instead of bare time.sleep.
package backends

import (
	"context"
	"fmt"
	"time"

	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/agentchannel"
	"github.com/theblitlabs/parity-server/internal/core/apierr"
	"github.com/theblitlabs/parity-server/internal/core/backends/proxmoxclient"
	"github.com/theblitlabs/parity-server/internal/core/models"
)

type Proxmox struct {
	hub *agentchannel.Hub
}

func NewProxmox(hub *agentchannel.Hub) *Proxmox {
	return &Proxmox{hub: hub}
}

func (p *Proxmox) client(runner *models.Runner) *proxmoxclient.Client {
	return proxmoxclient.New(runner.ProxmoxHost, runner.ProxmoxTokenName, runner.ProxmoxTokenValue)
}

func (p *Proxmox) CreateCheckpoint(ctx context.Context, runner *models.Runner, name string) error {
	c := p.client(runner)
	return c.SnapshotCreate(ctx, runner.ProxmoxNode, runner.ProxmoxVMID, name, "e2epool checkpoint "+name)
}

// Reset implements both finalize branches. Success runs the light path
// (cleanup command + snapshot delete, VM never stops); failure/canceled
// runs the full path (stop -> rollback -> start -> cleanup -> snapshot
// delete); waiting for the agent to reconnect is left to ReadinessWait.
func (p *Proxmox) Reset(ctx context.Context, runner *models.Runner, name string, status models.FinalizeStatus) error {
	c := p.client(runner)

	if status == models.FinalizeSuccess {
		if runner.CleanupCmd != "" {
			if _, err := p.hub.Exec(ctx, runner.RunnerID, runner.CleanupCmd, 60*time.Second); err != nil {
				return fmt.Errorf("cleanup command: %w", err)
			}
		}
		return c.SnapshotDelete(ctx, runner.ProxmoxNode, runner.ProxmoxVMID, name)
	}

	if err := c.Stop(ctx, runner.ProxmoxNode, runner.ProxmoxVMID); err != nil {
		return fmt.Errorf("stop vm: %w", err)
	}
	if err := p.waitForStatus(ctx, c, runner, "stopped", 60*time.Second); err != nil {
		return err
	}

	upid, err := c.SnapshotRollback(ctx, runner.ProxmoxNode, runner.ProxmoxVMID, name)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if err := p.waitForTask(ctx, c, runner.ProxmoxNode, upid, 120*time.Second); err != nil {
		return err
	}

	if err := c.Start(ctx, runner.ProxmoxNode, runner.ProxmoxVMID); err != nil {
		return fmt.Errorf("start vm: %w", err)
	}
	if err := p.waitForStatus(ctx, c, runner, "running", 180*time.Second); err != nil {
		return err
	}

	// The agent takes its usual boot time to reconnect; readiness is
	// confirmed separately via ReadinessWait.
	if runner.CleanupCmd != "" {
		if _, err := p.hub.Exec(ctx, runner.RunnerID, runner.CleanupCmd, 60*time.Second); err != nil {
			log := gologger.WithComponent("backends.proxmox")
			log.Warn().Err(err).
				Str("runner_id", runner.RunnerID).Msg("cleanup command failed after rollback")
		}
	}

	return c.SnapshotDelete(ctx, runner.ProxmoxNode, runner.ProxmoxVMID, name)
}

func (p *Proxmox) ReadinessWait(ctx context.Context, runner *models.Runner, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.hub.IsConnected(runner.RunnerID) {
			if runner.ReadinessCmd == "" {
				return nil
			}
			if _, err := p.hub.Exec(ctx, runner.RunnerID, runner.ReadinessCmd, 30*time.Second); err == nil {
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

func (p *Proxmox) waitForStatus(ctx context.Context, c *proxmoxclient.Client, runner *models.Runner, target string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := c.CurrentStatus(ctx, runner.ProxmoxNode, runner.ProxmoxVMID)
		if err == nil && status.Status == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("vm %d did not reach status %q within %s", runner.ProxmoxVMID, target, timeout)
}

func (p *Proxmox) waitForTask(ctx context.Context, c *proxmoxclient.Client, node, upid string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := c.TaskStatus(ctx, node, upid)
		if err == nil && task.Status == "stopped" {
			if task.ExitStatus != "OK" {
				return fmt.Errorf("proxmox task %s failed: %s", upid, task.ExitStatus)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("proxmox task %s did not complete within %s", upid, timeout)
}
