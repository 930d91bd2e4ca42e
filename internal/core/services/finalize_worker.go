package services

import (
	"context"
	"fmt"
	"time"

	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/core/backends"
	"github.com/theblitlabs/parity-server/internal/core/ciadapter"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
	"github.com/theblitlabs/parity-server/internal/taskqueue"
	"gorm.io/gorm"
)

// FinalizeWorker drains taskqueue.Queue and runs the finalize pipeline:
// acquire the runner's advisory lock, re-check state, pause the CI
// runner, reset the backend, wait for readiness (failure/canceled path
// only), unpause, commit the terminal state, log the operation. Go's
// defer stack expresses the pipeline's nested last-resort-unpause
// guarantees that the Python original built with nested try/finally.
type FinalizeWorker struct {
	db       *gorm.DB
	repo     *repositories.CheckpointRepository
	registry *RunnerRegistry
	locks    *LockManager
	backends *backends.Resolver
	queue    *taskqueue.Queue

	readinessTimeout time.Duration
	claimTimeout     time.Duration
	poolSize         int
	workerName       string

	stopCh chan struct{}
}

func NewFinalizeWorker(
	db *gorm.DB,
	repo *repositories.CheckpointRepository,
	registry *RunnerRegistry,
	locks *LockManager,
	backendResolver *backends.Resolver,
	queue *taskqueue.Queue,
	readinessTimeout time.Duration,
	poolSize int,
	workerName string,
) *FinalizeWorker {
	return &FinalizeWorker{
		db:               db,
		repo:             repo,
		registry:         registry,
		locks:            locks,
		backends:         backendResolver,
		queue:            queue,
		readinessTimeout: readinessTimeout,
		claimTimeout:     5 * time.Minute,
		poolSize:         poolSize,
		workerName:       workerName,
		stopCh:           make(chan struct{}),
	}
}

// Run starts poolSize worker goroutines, each polling the queue on its
// own ticker, and returns immediately; the goroutines exit when ctx is
// done or Stop is called.
func (w *FinalizeWorker) Run(ctx context.Context) {
	for i := 0; i < w.poolSize; i++ {
		go w.loop(ctx, i)
	}
}

func (w *FinalizeWorker) Stop() {
	close(w.stopCh)
}

func (w *FinalizeWorker) loop(ctx context.Context, workerIdx int) {
	log := gologger.WithComponent("finalize_worker")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	name := fmt.Sprintf("%s-%d", w.workerName, workerIdx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			tasks, err := w.queue.Claim(ctx, name, 1, w.claimTimeout)
			if err != nil {
				log.Error().Err(err).Msg("claiming finalize tasks")
				continue
			}
			for _, task := range tasks {
				w.process(ctx, task.CheckpointName)
				if err := w.queue.MarkDone(ctx, task.ID); err != nil {
					log.Error().Err(err).Uint("task_id", task.ID).Msg("marking finalize task done")
				}
			}
		}
	}
}

// process runs the full finalize pipeline for one checkpoint. Errors are
// logged, not propagated — the task queue's at-least-once redelivery and
// the reconciler's periodic re-enqueue of stuck finalize_queued rows are
// the retry mechanism, not an in-process retry loop.
func (w *FinalizeWorker) process(ctx context.Context, checkpointName string) {
	log := gologger.WithComponent("finalize_worker")

	checkpoint, err := w.repo.GetByName(ctx, checkpointName)
	if err != nil {
		log.Warn().Err(err).Str("checkpoint", checkpointName).Msg("checkpoint not found")
		return
	}
	if checkpoint.State != models.StateFinalizeQueued {
		log.Info().Str("checkpoint", checkpointName).Str("state", string(checkpoint.State)).
			Msg("checkpoint no longer finalize_queued, skipping")
		return
	}

	runnerID := checkpoint.RunnerID
	runner, err := w.registry.Lookup(ctx, runnerID)
	if err != nil {
		log.Error().Err(err).Str("runner_id", runnerID).Msg("runner not found")
		return
	}

	txCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	err = w.db.Transaction(func(tx *gorm.DB) error {
		acquired, err := w.locks.TryAcquire(txCtx, tx, runnerID)
		if err != nil {
			return fmt.Errorf("acquiring lock: %w", err)
		}
		if !acquired {
			log.Warn().Str("runner_id", runnerID).Msg("could not acquire lock, will retry on redelivery")
			return nil
		}
		defer func() {
			if err := w.locks.Release(txCtx, tx, runnerID); err != nil {
				log.Error().Err(err).Str("runner_id", runnerID).Msg("releasing advisory lock")
			}
		}()

		// Re-verify state now that the lock is held: another replica may
		// have already processed this checkpoint between claim and lock.
		fresh, err := w.repo.GetByNameForUpdate(txCtx, tx, checkpointName)
		if err != nil {
			return fmt.Errorf("re-reading checkpoint: %w", err)
		}
		if fresh.State != models.StateFinalizeQueued {
			log.Info().Str("checkpoint", checkpointName).Msg("state changed after lock acquisition, skipping")
			return nil
		}

		return w.runPipeline(txCtx, tx, runner, fresh)
	})
	if err != nil {
		log.Error().Err(err).Str("checkpoint", checkpointName).Msg("finalize pipeline failed")
	}
}

// runPipeline implements the pause -> reset -> (readiness wait, failure/
// canceled only) -> unpause sequence with two layered unpause
// guarantees: an inline unpause right after reset/readiness, and a
// deferred last-resort unpause that runs however runPipeline exits if
// the runner is still paused. Success finalizes via the backend's light
// cleanup path;
// failure/canceled runs the full stop/rollback/start/readiness path.
func (w *FinalizeWorker) runPipeline(ctx context.Context, tx *gorm.DB, runner *models.Runner, checkpoint *models.Checkpoint) error {
	log := gologger.WithComponent("finalize_worker")
	started := time.Now()
	status := *checkpoint.FinalizeStatus

	backend, err := w.backends.Resolve(runner)
	if err != nil {
		return err
	}

	adapter, adapterErr := ciadapter.Resolve(runner)
	paused := false

	if adapterErr == nil && runner.CIRunnerID != "" {
		if err := adapter.PauseRunner(ctx, runner.CIRunnerID); err != nil {
			log.Warn().Err(err).Str("runner_id", runner.RunnerID).Msg("pause_runner failed, continuing finalize")
		} else {
			paused = true
		}
	}

	// Outermost last-resort guarantee: however runPipeline exits, make one
	// final attempt to unpause if a pause ever succeeded and nothing
	// already undid it.
	defer func() {
		if paused && adapterErr == nil {
			if err := adapter.UnpauseRunner(ctx, runner.CIRunnerID); err != nil {
				log.Error().Err(err).Str("runner_id", runner.RunnerID).
					Msg("last-resort unpause failed; runner may remain paused")
			}
		}
	}()

	result := "ok"
	resetErr := func() error {
		if err := backend.Reset(ctx, runner, checkpoint.Name, status); err != nil {
			return err
		}
		if status != models.FinalizeSuccess {
			if err := backend.ReadinessWait(ctx, runner, w.readinessTimeout); err != nil {
				return err
			}
		}
		return nil
	}()

	// Inner guarantee: unpause immediately after the backend operation
	// completes (success or failure), before the terminal state is ever
	// written, so a crash between here and commit still leaves the CI
	// runner usable.
	if paused {
		if err := adapter.UnpauseRunner(ctx, runner.CIRunnerID); err != nil {
			log.Error().Err(err).Str("runner_id", runner.RunnerID).Msg("unpause after reset failed")
		} else {
			paused = false
		}
	}

	if resetErr != nil {
		result = "error"
	}

	terminal := models.TerminalStateFor(status)
	checkpoint.State = terminal
	now := time.Now()
	checkpoint.FinalizedAt = &now

	if err := w.repo.UpdateState(ctx, tx, checkpoint); err != nil {
		return fmt.Errorf("writing terminal state: %w", err)
	}

	finished := time.Now()
	logErr := w.repo.CreateOperationLog(ctx, tx, &models.OperationLog{
		CheckpointID: checkpoint.ID,
		RunnerID:     runner.RunnerID,
		Operation:    "finalize",
		Backend:      runner.Backend,
		Detail:       fmt.Sprintf("finalized: status=%s, new_state=%s", status, terminal),
		Result:       result,
		StartedAt:    started,
		FinishedAt:   finished,
		DurationMs:   finished.Sub(started).Milliseconds(),
	})
	if logErr != nil {
		log.Error().Err(logErr).Str("checkpoint", checkpoint.Name).Msg("writing operation log")
	}

	// resetErr must not be returned here: this func runs inside
	// db.Transaction, and returning a non-nil error rolls back the
	// UpdateState/CreateOperationLog writes above along with it, leaving
	// the checkpoint stuck in finalize_queued with no record that a
	// reset was even attempted. The terminal state and audit log must
	// commit regardless of backend outcome; the failure is recorded in
	// the operation log's result field and logged here instead.
	if resetErr != nil {
		log.Error().Err(resetErr).Str("checkpoint", checkpoint.Name).Str("runner_id", runner.RunnerID).
			Msg("backend reset/readiness failed")
	}
	return nil
}
