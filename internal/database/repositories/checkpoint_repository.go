package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/theblitlabs/parity-server/internal/core/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

var clauseForUpdate = clause.Locking{Strength: "UPDATE"}

type CheckpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

func (r *CheckpointRepository) Create(ctx context.Context, c *models.Checkpoint) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *CheckpointRepository) GetByName(ctx context.Context, name string) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByNameForUpdate re-reads a checkpoint under a row lock inside an
// already-open transaction, so a caller can safely check-then-write its
// state without racing another replica's finalize/gc pipeline.
func (r *CheckpointRepository) GetByNameForUpdate(ctx context.Context, tx *gorm.DB, name string) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := tx.WithContext(ctx).Clauses(clauseForUpdate).Where("name = ?", name).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetActiveForRunnerForUpdate locks and returns the runner's checkpoint
// currently in an active state (created or finalize_queued), if any. Used
// by CheckpointService.Create to enforce the one-active-checkpoint-per-
// runner invariant under the same transaction that writes the new row,
// so the partial unique index is a backstop rather than the only guard.
func (r *CheckpointRepository) GetActiveForRunnerForUpdate(ctx context.Context, tx *gorm.DB, runnerID string) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := tx.WithContext(ctx).Clauses(clauseForUpdate).
		Where("runner_id = ? AND state IN ?", runnerID, models.ActiveStates).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckpointRepository) UpdateState(ctx context.Context, tx *gorm.DB, c *models.Checkpoint) error {
	return tx.WithContext(ctx).Save(c).Error
}

// MostRecentFinalized returns the runner's last finalized checkpoint
// (any terminal state), used to enforce the create-cooldown window.
func (r *CheckpointRepository) MostRecentFinalized(ctx context.Context, runnerID string) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := r.db.WithContext(ctx).
		Where("runner_id = ? AND finalized_at IS NOT NULL", runnerID).
		Order("finalized_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByJobID returns the most recently created checkpoint for a CI
// job_id, used by the webhook handlers to map a job-completion event
// back to a checkpoint name.
func (r *CheckpointRepository) GetByJobID(ctx context.Context, jobID string) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListStaleCreated keyset-paginates checkpoints stuck in `created` past
// cutoff, ordered by id so GCService can sweep in fixed-size batches
// without an OFFSET scan.
func (r *CheckpointRepository) ListStaleCreated(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]*models.Checkpoint, error) {
	var batch []*models.Checkpoint
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ? AND id > ?", models.StateCreated, cutoff, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&batch).Error
	return batch, err
}

// ListPendingCompletion keyset-paginates `created` checkpoints old enough
// for the poller to check the CI adapter for a terminal job status.
func (r *CheckpointRepository) ListPendingCompletion(ctx context.Context, minAge time.Duration, afterID uint, limit int) ([]*models.Checkpoint, error) {
	var batch []*models.Checkpoint
	cutoff := time.Now().Add(-minAge)
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ? AND id > ?", models.StateCreated, cutoff, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&batch).Error
	return batch, err
}

// ListQueuedOlderThan keyset-paginates checkpoints stuck in
// finalize_queued past cutoff, for ReconcilerService to re-enqueue.
func (r *CheckpointRepository) ListQueuedOlderThan(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]*models.Checkpoint, error) {
	var batch []*models.Checkpoint
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ? AND id > ?", models.StateFinalizeQueued, cutoff, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&batch).Error
	return batch, err
}

func (r *CheckpointRepository) CreateOperationLog(ctx context.Context, tx *gorm.DB, log *models.OperationLog) error {
	return tx.WithContext(ctx).Create(log).Error
}
