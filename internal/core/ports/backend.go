package ports

import (
	"context"
	"time"

	"github.com/theblitlabs/parity-server/internal/core/models"
)

// Backend drives a runner's hypervisor or bare-metal reset mechanism. One
// implementation per models.Backend value.
type Backend interface {
	CreateCheckpoint(ctx context.Context, runner *models.Runner, checkpointName string) error

	// Reset rolls a runner back to checkpointName. status selects the
	// success (light: cleanup + delete) vs failure/canceled (full:
	// stop->rollback->start, or reset_cmd on bare metal) path. Reset does
	// not wait for readiness; callers invoke ReadinessWait afterwards.
	Reset(ctx context.Context, runner *models.Runner, checkpointName string, status models.FinalizeStatus) error

	ReadinessWait(ctx context.Context, runner *models.Runner, timeout time.Duration) error
}
