// Package taskqueue is a minimal durable, at-least-once, late-ack work
// queue backed by a Postgres table rather than an external broker — no
// example repo in the corpus imports a message-broker client, so finalize
// work is queued the same way the rest of the controller already talks
// to the store: through gorm.
package taskqueue

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// FinalizeTask is one durable unit of work: "run the finalize pipeline
// for this checkpoint". Rows are inserted by QueueFinalize and the
// reconciler and claimed by FinalizeWorker.
type FinalizeTask struct {
	ID             uint `gorm:"primaryKey;autoIncrement"`
	CheckpointName string `gorm:"type:varchar(255);index"`
	Done           bool   `gorm:"index"`
	Attempts       int
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	ClaimedAt      *time.Time
	ClaimedBy      string `gorm:"type:varchar(64)"`
}

type Queue struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Migrate(ctx context.Context) error {
	return q.db.WithContext(ctx).AutoMigrate(&FinalizeTask{})
}

func (q *Queue) Enqueue(ctx context.Context, checkpointName string) error {
	return q.db.WithContext(ctx).Create(&FinalizeTask{CheckpointName: checkpointName}).Error
}

// Claim atomically reserves up to n unclaimed-or-stale tasks for worker
// and returns them. A task is reclaimable once claimTimeout has elapsed
// since it was last claimed without being marked done — this is what
// makes delivery at-least-once rather than losing work when a worker
// dies mid-pipeline.
func (q *Queue) Claim(ctx context.Context, worker string, n int, claimTimeout time.Duration) ([]FinalizeTask, error) {
	var claimed []FinalizeTask
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []FinalizeTask
		cutoff := time.Now().Add(-claimTimeout)
		err := tx.Where(
			"done = ? AND (claimed_at IS NULL OR claimed_at < ?)", false, cutoff,
		).Order("id").Limit(n).Find(&candidates).Error
		if err != nil {
			return err
		}

		now := time.Now()
		for i := range candidates {
			res := tx.Model(&FinalizeTask{}).
				Where("id = ? AND done = ? AND (claimed_at IS NULL OR claimed_at < ?)",
					candidates[i].ID, false, cutoff).
				Updates(map[string]interface{}{
					"claimed_at": now,
					"claimed_by": worker,
					"attempts":   gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				candidates[i].ClaimedAt = &now
				candidates[i].ClaimedBy = worker
				claimed = append(claimed, candidates[i])
			}
		}
		return nil
	})
	return claimed, err
}

func (q *Queue) MarkDone(ctx context.Context, id uint) error {
	return q.db.WithContext(ctx).Model(&FinalizeTask{}).Where("id = ?", id).Update("done", true).Error
}
