package services

import (
	"context"
	"time"

	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/core/apierr"
	"github.com/theblitlabs/parity-server/internal/core/backends"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
	"github.com/theblitlabs/parity-server/internal/taskqueue"
	"gorm.io/gorm"
)

// CheckpointService implements the create/queue_finalize/get_status
// operations of spec component C7, sequenced after
// original_source/e2epool/services/checkpoint_service.py with the
// controller's backend resolver and lock manager standing in for the
// Python version's direct backend/session calls.
type CheckpointService struct {
	db       *gorm.DB
	repo     *repositories.CheckpointRepository
	registry *RunnerRegistry
	locks    *LockManager
	backends *backends.Resolver
	queue    *taskqueue.Queue

	finalizeCooldown time.Duration
}

func NewCheckpointService(
	db *gorm.DB,
	repo *repositories.CheckpointRepository,
	registry *RunnerRegistry,
	locks *LockManager,
	backendResolver *backends.Resolver,
	queue *taskqueue.Queue,
	finalizeCooldown time.Duration,
) *CheckpointService {
	return &CheckpointService{
		db:               db,
		repo:             repo,
		registry:         registry,
		locks:            locks,
		backends:         backendResolver,
		queue:            queue,
		finalizeCooldown: finalizeCooldown,
	}
}

func (s *CheckpointService) Create(ctx context.Context, runnerID, jobID string) (*models.Checkpoint, error) {
	log := gologger.WithComponent("checkpoint_service")

	runner, err := s.registry.Lookup(ctx, runnerID)
	if err != nil {
		return nil, &apierr.NotFoundError{Msg: "runner not registered: " + runnerID}
	}

	recent, err := s.repo.MostRecentFinalized(ctx, runnerID)
	if err != nil {
		return nil, &apierr.StoreError{Err: err}
	}
	if recent != nil && recent.FinalizedAt != nil {
		if time.Since(*recent.FinalizedAt) < s.finalizeCooldown {
			return nil, &apierr.CooldownError{Msg: "cooldown period active, try again later"}
		}
	}

	backend, err := s.backends.Resolve(runner)
	if err != nil {
		return nil, &apierr.ValidationError{Msg: err.Error()}
	}

	name, err := models.NewCheckpointName(jobID)
	if err != nil {
		return nil, &apierr.StoreError{Err: err}
	}

	var checkpoint *models.Checkpoint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := s.repo.GetActiveForRunnerForUpdate(ctx, tx, runnerID)
		if err != nil {
			return &apierr.StoreError{Err: err}
		}
		if active != nil {
			return &apierr.ConflictError{Msg: "active checkpoint '" + active.Name + "' already exists for runner '" + runnerID + "'"}
		}

		started := time.Now()
		if err := backend.CreateCheckpoint(ctx, runner, name); err != nil {
			return &apierr.BackendError{Msg: "create_checkpoint failed", Err: err}
		}
		finished := time.Now()

		checkpoint = &models.Checkpoint{
			Name:     name,
			RunnerID: runnerID,
			JobID:    jobID,
			State:    models.StateCreated,
		}
		if err := repositories.NewCheckpointRepository(tx).Create(ctx, checkpoint); err != nil {
			return &apierr.ConflictError{Msg: "active checkpoint already exists for runner '" + runnerID + "' (concurrent create)"}
		}

		return s.repo.CreateOperationLog(ctx, tx, &models.OperationLog{
			CheckpointID: checkpoint.ID,
			RunnerID:     runnerID,
			Operation:    "create",
			Backend:      runner.Backend,
			Detail:       "checkpoint created for job " + jobID,
			Result:       "ok",
			StartedAt:    started,
			FinishedAt:   finished,
			DurationMs:   finished.Sub(started).Milliseconds(),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("checkpoint", name).Str("runner_id", runnerID).Msg("checkpoint created")
	return checkpoint, nil
}

// QueueFinalize is the single idempotent sink for every completion source
// (hook, poller, webhook, agent). Returns (checkpoint, alreadyQueued), where
// alreadyQueued is true when the checkpoint was already finalize_queued or
// terminal.
func (s *CheckpointService) QueueFinalize(ctx context.Context, checkpointName string, status models.FinalizeStatus, source models.FinalizeSource) (*models.Checkpoint, bool, error) {
	var checkpoint *models.Checkpoint
	var alreadyQueued bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.GetByNameForUpdate(ctx, tx, checkpointName)
		if err == repositories.ErrCheckpointNotFound {
			return &apierr.NotFoundError{Msg: "checkpoint '" + checkpointName + "' not found"}
		}
		if err != nil {
			return &apierr.StoreError{Err: err}
		}

		if c.State == models.StateFinalizeQueued || models.IsTerminalState(c.State) {
			checkpoint = c
			alreadyQueued = true
			return nil
		}

		if c.State != models.StateCreated {
			return &apierr.ConflictError{Msg: "checkpoint '" + checkpointName + "' in state '" + string(c.State) + "', cannot finalize"}
		}

		now := time.Now()
		c.State = models.StateFinalizeQueued
		c.FinalizeStatus = &status
		c.FinalizeSource = &source

		if err := s.repo.UpdateState(ctx, tx, c); err != nil {
			return &apierr.StoreError{Err: err}
		}

		if err := s.repo.CreateOperationLog(ctx, tx, &models.OperationLog{
			CheckpointID: c.ID,
			RunnerID:     c.RunnerID,
			Operation:    "queue_finalize",
			Detail:       "finalize queued: status=" + string(status) + ", source=" + string(source),
			Result:       "ok",
			StartedAt:    now,
			FinishedAt:   now,
		}); err != nil {
			return &apierr.StoreError{Err: err}
		}

		checkpoint = c
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if err := s.queue.Enqueue(ctx, checkpointName); err != nil && !alreadyQueued {
		log := gologger.WithComponent("checkpoint_service")
		log.Error().Err(err).
			Str("checkpoint", checkpointName).Msg("failed to enqueue finalize task; reconciler will retry")
	}

	return checkpoint, alreadyQueued, nil
}

func (s *CheckpointService) GetStatus(ctx context.Context, checkpointName string) (*models.Checkpoint, error) {
	c, err := s.repo.GetByName(ctx, checkpointName)
	if err != nil {
		if err == repositories.ErrCheckpointNotFound {
			return nil, &apierr.NotFoundError{Msg: "checkpoint '" + checkpointName + "' not found"}
		}
		return nil, &apierr.StoreError{Err: err}
	}
	return c, nil
}
