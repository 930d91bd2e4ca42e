package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
	"github.com/theblitlabs/parity-server/internal/taskqueue"
)

// ReconcilerService re-enqueues checkpoints stuck in finalize_queued — a
// worker that crashed mid-pipeline, or a finalize task lost before
// taskqueue ever recorded it. It never touches `created` checkpoints;
// that sweep belongs to GCService so the two never race the same row.
type ReconcilerService struct {
	repo  *repositories.CheckpointRepository
	queue *taskqueue.Queue

	batchSize int
	scheduler *gocron.Scheduler
	interval  time.Duration
	mutex     sync.Mutex
	isRunning bool
	stopCh    chan struct{}
}

func NewReconcilerService(repo *repositories.CheckpointRepository, queue *taskqueue.Queue, interval time.Duration, batchSize int) *ReconcilerService {
	return &ReconcilerService{
		repo:      repo,
		queue:     queue,
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// ReconcileOnce scans once, synchronously, and returns the number of
// checkpoints re-enqueued. Called both at startup and by the recurring
// schedule.
func (s *ReconcilerService) ReconcileOnce(ctx context.Context) (int, error) {
	log := gologger.WithComponent("reconciler_service")
	cutoff := time.Now().Add(-1 * time.Minute)
	var afterID uint
	enqueued := 0

	for {
		batch, err := s.repo.ListQueuedOlderThan(ctx, cutoff, afterID, s.batchSize)
		if err != nil {
			return enqueued, err
		}
		if len(batch) == 0 {
			return enqueued, nil
		}
		afterID = batch[len(batch)-1].ID

		for _, checkpoint := range batch {
			log.Info().Str("checkpoint", checkpoint.Name).Str("runner_id", checkpoint.RunnerID).
				Msg("reconcile: re-enqueuing stuck checkpoint")
			if err := s.queue.Enqueue(ctx, checkpoint.Name); err != nil {
				log.Error().Err(err).Str("checkpoint", checkpoint.Name).Msg("reconcile: failed to enqueue")
				continue
			}
			enqueued++
		}
	}
}

func (s *ReconcilerService) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.isRunning {
		return nil
	}

	log := gologger.WithComponent("reconciler_service")

	if n, err := s.ReconcileOnce(context.Background()); err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("reconcile: re-enqueued stuck checkpoints at startup")
	} else {
		log.Info().Msg("reconcile: no stuck checkpoints found at startup")
	}

	s.scheduler = gocron.NewScheduler(time.UTC)
	s.stopCh = make(chan struct{})

	_, err := s.scheduler.Every(s.interval).Do(func() {
		select {
		case <-s.stopCh:
			return
		default:
			if _, err := s.ReconcileOnce(context.Background()); err != nil {
				log.Error().Err(err).Msg("periodic reconciliation failed")
			}
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.isRunning = true
	log.Info().Dur("interval", s.interval).Msg("reconciler started")
	return nil
}

func (s *ReconcilerService) Stop() {
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
