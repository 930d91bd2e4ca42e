package repositories

import (
	"context"
	"errors"

	"github.com/theblitlabs/parity-server/internal/core/models"
	"gorm.io/gorm"
)

var ErrRunnerNotFound = errors.New("runner not found")

type RunnerRepository struct {
	db *gorm.DB
}

func NewRunnerRepository(db *gorm.DB) *RunnerRepository {
	return &RunnerRepository{db: db}
}

func (r *RunnerRepository) GetByRunnerID(ctx context.Context, runnerID string) (*models.Runner, error) {
	var runner models.Runner
	err := r.db.WithContext(ctx).Where("runner_id = ?", runnerID).First(&runner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &runner, nil
}

func (r *RunnerRepository) GetByToken(ctx context.Context, token string) (*models.Runner, error) {
	var runner models.Runner
	err := r.db.WithContext(ctx).Where("token = ? AND is_active = ?", token, true).First(&runner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &runner, nil
}

// CreateOrReactivate inserts a new runner, or overwrites the existing row
// with the same runner_id (active or deactivated) with the given fields —
// an admin re-registering a runner shouldn't have to first purge the old row.
func (r *RunnerRepository) CreateOrReactivate(ctx context.Context, runner *models.Runner) (*models.Runner, error) {
	var existing models.Runner
	err := r.db.WithContext(ctx).Where("runner_id = ?", runner.RunnerID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.WithContext(ctx).Create(runner).Error; err != nil {
			return nil, err
		}
		return runner, nil
	}
	if err != nil {
		return nil, err
	}

	runner.ID = existing.ID
	runner.CreatedAt = existing.CreatedAt
	if err := r.db.WithContext(ctx).Save(runner).Error; err != nil {
		return nil, err
	}
	return runner, nil
}

func (r *RunnerRepository) Deactivate(ctx context.Context, runnerID string) error {
	result := r.db.WithContext(ctx).Model(&models.Runner{}).
		Where("runner_id = ?", runnerID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRunnerNotFound
	}
	return nil
}

func (r *RunnerRepository) List(ctx context.Context) ([]*models.Runner, error) {
	var runners []*models.Runner
	err := r.db.WithContext(ctx).Order("id ASC").Find(&runners).Error
	return runners, err
}
