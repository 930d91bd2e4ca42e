package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/core/backends"
	"github.com/theblitlabs/parity-server/internal/core/ciadapter"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
	"gorm.io/gorm"
)

// GCService sweeps stale `created` checkpoints (never enqueued for
// finalize — the job post-step never ran) and resets them directly to
// gc_reset, bypassing finalize_queued entirely so it never races the
// reconciler, which only ever touches finalize_queued rows.
type GCService struct {
	db       *gorm.DB
	repo     *repositories.CheckpointRepository
	registry *RunnerRegistry
	locks    *LockManager
	backends *backends.Resolver

	maxAge    time.Duration
	batchSize int

	scheduler *gocron.Scheduler
	interval  time.Duration
	mutex     sync.Mutex
	isRunning bool
	stopCh    chan struct{}
}

func NewGCService(
	db *gorm.DB,
	repo *repositories.CheckpointRepository,
	registry *RunnerRegistry,
	locks *LockManager,
	backendResolver *backends.Resolver,
	interval time.Duration,
	maxAge time.Duration,
	batchSize int,
) *GCService {
	return &GCService{
		db:        db,
		repo:      repo,
		registry:  registry,
		locks:     locks,
		backends:  backendResolver,
		maxAge:    maxAge,
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

func (s *GCService) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.isRunning {
		return nil
	}

	log := gologger.WithComponent("gc_service")
	s.scheduler = gocron.NewScheduler(time.UTC)
	s.stopCh = make(chan struct{})

	_, err := s.scheduler.Every(s.interval).Do(func() {
		select {
		case <-s.stopCh:
			return
		default:
			if err := s.sweep(context.Background()); err != nil {
				log.Error().Err(err).Msg("gc sweep failed")
			}
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.isRunning = true
	log.Info().Dur("interval", s.interval).Msg("garbage collector started")
	return nil
}

func (s *GCService) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.isRunning {
		return
	}
	close(s.stopCh)
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.isRunning = false
}

func (s *GCService) sweep(ctx context.Context) error {
	log := gologger.WithComponent("gc_service")
	cutoff := time.Now().Add(-s.maxAge)
	var afterID uint

	for {
		batch, err := s.repo.ListStaleCreated(ctx, cutoff, afterID, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		afterID = batch[len(batch)-1].ID

		for _, checkpoint := range batch {
			if err := s.resetOne(ctx, checkpoint); err != nil {
				log.Error().Err(err).Str("checkpoint", checkpoint.Name).Msg("gc failed for checkpoint")
			}
		}
	}
}

func (s *GCService) resetOne(ctx context.Context, checkpoint *models.Checkpoint) error {
	log := gologger.WithComponent("gc_service")

	runner, err := s.registry.Lookup(ctx, checkpoint.RunnerID)
	if err != nil {
		log.Warn().Str("runner_id", checkpoint.RunnerID).Msg("gc: runner not found, skipping")
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acquired, err := s.locks.TryAcquire(ctx, tx, checkpoint.RunnerID)
		if err != nil {
			return err
		}
		if !acquired {
			log.Warn().Str("runner_id", checkpoint.RunnerID).Msg("gc: could not acquire lock, skipping")
			return nil
		}
		defer s.locks.Release(ctx, tx, checkpoint.RunnerID)

		fresh, err := s.repo.GetByNameForUpdate(ctx, tx, checkpoint.Name)
		if err != nil {
			return err
		}
		if fresh.State != models.StateCreated {
			log.Info().Str("checkpoint", checkpoint.Name).Msg("gc: state changed after lock, skipping")
			return nil
		}

		backend, err := s.backends.Resolve(runner)
		if err != nil {
			return err
		}

		adapter, adapterErr := ciadapter.Resolve(runner)
		paused := false
		if adapterErr == nil && runner.CIRunnerID != "" {
			if err := adapter.PauseRunner(ctx, runner.CIRunnerID); err == nil {
				paused = true
			}
		}
		defer func() {
			if paused && adapterErr == nil {
				if err := adapter.UnpauseRunner(ctx, runner.CIRunnerID); err != nil {
					log.Error().Err(err).Str("runner_id", runner.RunnerID).Msg("gc: last-resort unpause failed")
				}
			}
		}()

		started := time.Now()
		result := "ok"
		resetErr := func() error {
			if err := backend.Reset(ctx, runner, fresh.Name, models.FinalizeCanceled); err != nil {
				return err
			}
			return backend.ReadinessWait(ctx, runner, 2*time.Minute)
		}()

		if paused {
			if err := adapter.UnpauseRunner(ctx, runner.CIRunnerID); err == nil {
				paused = false
			}
		}

		if resetErr != nil {
			result = "error"
		}

		gcStatus := models.FinalizeFailure
		gcSource := models.SourceGC
		fresh.State = models.StateGCReset
		fresh.FinalizeStatus = &gcStatus
		fresh.FinalizeSource = &gcSource
		now := time.Now()
		fresh.FinalizedAt = &now
		if err := s.repo.UpdateState(ctx, tx, fresh); err != nil {
			return err
		}

		finished := time.Now()
		if err := s.repo.CreateOperationLog(ctx, tx, &models.OperationLog{
			CheckpointID: fresh.ID,
			RunnerID:     fresh.RunnerID,
			Operation:    "gc",
			Backend:      runner.Backend,
			Detail:       "stale checkpoint reset by gc",
			Result:       result,
			StartedAt:    started,
			FinishedAt:   finished,
			DurationMs:   finished.Sub(started).Milliseconds(),
		}); err != nil {
			log.Error().Err(err).Str("checkpoint", fresh.Name).Msg("writing gc operation log")
		}

		// resetErr must not be returned here: it would roll back the
		// UpdateState/CreateOperationLog writes above along with it,
		// leaving the checkpoint stuck past its max age with no record
		// a sweep was attempted, so the next sweep repeats the same
		// pause/reset/unpause cycle forever. The failure is already
		// captured in the operation log's result field.
		if resetErr != nil {
			log.Error().Err(resetErr).Str("checkpoint", fresh.Name).Str("runner_id", runner.RunnerID).
				Msg("gc: backend reset/readiness failed")
		}
		return nil
	})
}
