package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/theblitlabs/parity-server/internal/core/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DBManager provides centralized database connection management
type DBManager struct {
	db   *gorm.DB
	lock sync.RWMutex
}

// NewDBManager creates a new DBManager instance
func NewDBManager() *DBManager {
	return &DBManager{}
}

// Connect establishes a database connection, auto-migrates the schema and
// backfills the partial unique indexes AutoMigrate cannot express.
func (m *DBManager) Connect(ctx context.Context, dbURL string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	if err := db.AutoMigrate(&models.Runner{}, &models.Checkpoint{}, &models.OperationLog{}); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}

	if err := backfillIndexes(db); err != nil {
		return fmt.Errorf("error backfilling indexes: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting SQL DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(15)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	m.db = db
	return nil
}

// backfillIndexes creates the partial unique index that enforces "at most
// one active checkpoint per runner" (spec invariant P1/P2) — GORM's struct
// tags can't express a WHERE clause, so this runs as raw SQL after
// AutoMigrate, guarded by IF NOT EXISTS so it's safe to re-run on every
// startup across every replica.
func backfillIndexes(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_runner_active
		ON checkpoints (runner_id)
		WHERE state IN ('created', 'finalize_queued')
	`).Error
}

// GetDB returns the database connection
func (m *DBManager) GetDB() *gorm.DB {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.db
}

// Close closes the database connection
func (m *DBManager) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.db == nil {
		return nil
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("error getting SQL DB: %w", err)
	}

	return sqlDB.Close()
}

// Global instance for singleton access pattern
var (
	instance *DBManager
	once     sync.Once
)

// GetDBManager returns the singleton database manager instance
func GetDBManager() *DBManager {
	once.Do(func() {
		instance = NewDBManager()
	})
	return instance
}

// Connect is a helper function that connects the global DB instance
func Connect(ctx context.Context, dbURL string) (*gorm.DB, error) {
	dbManager := GetDBManager()
	err := dbManager.Connect(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	return dbManager.GetDB(), nil
}
