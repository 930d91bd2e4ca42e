package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/core/ciadapter"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/ports"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
)

// PollerService is one of the three completion-detector sources (C9): it
// periodically asks each runner's CI adapter for its job's status and
// calls QueueFinalize when the job has reached a terminal state.
type PollerService struct {
	repo       *repositories.CheckpointRepository
	registry   *RunnerRegistry
	checkpoint *CheckpointService

	minAge    time.Duration
	batchSize int

	scheduler *gocron.Scheduler
	interval  time.Duration
	mutex     sync.Mutex
	isRunning bool
	stopCh    chan struct{}
}

func NewPollerService(
	repo *repositories.CheckpointRepository,
	registry *RunnerRegistry,
	checkpoint *CheckpointService,
	interval, minAge time.Duration,
	batchSize int,
) *PollerService {
	return &PollerService{
		repo:       repo,
		registry:   registry,
		checkpoint: checkpoint,
		minAge:     minAge,
		batchSize:  batchSize,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

func (s *PollerService) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.isRunning {
		return nil
	}

	log := gologger.WithComponent("poller_service")
	s.scheduler = gocron.NewScheduler(time.UTC)
	s.stopCh = make(chan struct{})

	_, err := s.scheduler.Every(s.interval).Do(func() {
		select {
		case <-s.stopCh:
			return
		default:
			if err := s.poll(context.Background()); err != nil {
				log.Error().Err(err).Msg("poll sweep failed")
			}
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.isRunning = true
	log.Info().Dur("interval", s.interval).Msg("completion poller started")
	return nil
}

func (s *PollerService) Stop() {
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

func (s *PollerService) poll(ctx context.Context) error {
	var afterID uint

	for {
		batch, err := s.repo.ListPendingCompletion(ctx, s.minAge, afterID, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		afterID = batch[len(batch)-1].ID

		for _, checkpoint := range batch {
			s.pollOne(ctx, checkpoint)
		}
	}
}

func (s *PollerService) pollOne(ctx context.Context, checkpoint *models.Checkpoint) {
	log := gologger.WithComponent("poller_service")

	runner, err := s.registry.Lookup(ctx, checkpoint.RunnerID)
	if err != nil {
		return
	}

	adapter, err := ciadapter.Resolve(runner)
	if err != nil {
		log.Error().Err(err).Str("runner_id", runner.RunnerID).Msg("resolving ci adapter")
		return
	}

	status, err := adapter.GetJobStatus(ctx, checkpoint.JobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", checkpoint.JobID).Msg("polling job status failed")
		return
	}

	finalizeStatus, terminal := mapJobStatus(status)
	if !terminal {
		return
	}

	if _, already, err := s.checkpoint.QueueFinalize(ctx, checkpoint.Name, finalizeStatus, models.SourcePoller); err != nil {
		log.Error().Err(err).Str("checkpoint", checkpoint.Name).Msg("poller failed to queue finalize")
	} else if !already {
		log.Info().Str("checkpoint", checkpoint.Name).Str("status", string(status)).Msg("poller queued finalize")
	}
}

func mapJobStatus(status ports.JobStatus) (models.FinalizeStatus, bool) {
	switch string(status) {
	case "success":
		return models.FinalizeSuccess, true
	case "failed":
		return models.FinalizeFailure, true
	case "canceled":
		return models.FinalizeCanceled, true
	default:
		return "", false
	}
}
