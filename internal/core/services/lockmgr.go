package services

import (
	"context"
	"hash/crc32"

	"gorm.io/gorm"
)

// LockManager wraps Postgres session-level advisory locks keyed by a
// deterministic hash of runner_id. CRC32 is used deliberately instead of
// any language-builtin hash — Go's map iteration and (if ever used)
// maphash are seeded per-process, which would make the same runner_id
// hash to a different lock key on every replica.
type LockManager struct {
	db *gorm.DB
}

func NewLockManager(db *gorm.DB) *LockManager {
	return &LockManager{db: db}
}

func lockKey(runnerID string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(runnerID)) & 0x7FFFFFFF)
}

// TryAcquire attempts the advisory lock on tx's underlying connection and
// reports whether it was obtained. tx must be a transaction so the lock
// is held on a single pinned connection for the transaction's lifetime.
func (l *LockManager) TryAcquire(ctx context.Context, tx *gorm.DB, runnerID string) (bool, error) {
	var acquired bool
	err := tx.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", lockKey(runnerID)).Scan(&acquired).Error
	return acquired, err
}

func (l *LockManager) Release(ctx context.Context, tx *gorm.DB, runnerID string) error {
	var released bool
	return tx.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", lockKey(runnerID)).Scan(&released).Error
}
