package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
)

type cacheEntry struct {
	runner    *models.Runner
	expiresAt time.Time
}

// RunnerRegistry caches runners by both runner_id and token so every
// checkpoint/agent-channel request doesn't round-trip the store. Entries
// expire after ttl and are also actively invalidated after admin-API
// mutations.
type RunnerRegistry struct {
	repo *repositories.RunnerRepository
	ttl  time.Duration

	mu       sync.RWMutex
	byID     map[string]cacheEntry
	byToken  map[string]cacheEntry
}

func NewRunnerRegistry(repo *repositories.RunnerRepository, ttl time.Duration) *RunnerRegistry {
	return &RunnerRegistry{
		repo:    repo,
		ttl:     ttl,
		byID:    make(map[string]cacheEntry),
		byToken: make(map[string]cacheEntry),
	}
}

func (r *RunnerRegistry) Lookup(ctx context.Context, runnerID string) (*models.Runner, error) {
	if runner, ok := r.getCached(r.byID, runnerID); ok {
		return runner, nil
	}

	runner, err := r.repo.GetByRunnerID(ctx, runnerID)
	if err != nil {
		return nil, err
	}
	r.put(runner)
	return runner, nil
}

func (r *RunnerRegistry) LookupByToken(ctx context.Context, token string) (*models.Runner, error) {
	if runner, ok := r.getCached(r.byToken, token); ok {
		return runner, nil
	}

	runner, err := r.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	r.put(runner)
	return runner, nil
}

func (r *RunnerRegistry) getCached(index map[string]cacheEntry, key string) (*models.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := index[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.runner, true
}

func (r *RunnerRegistry) put(runner *models.Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := cacheEntry{runner: runner, expiresAt: time.Now().Add(r.ttl)}
	r.byID[runner.RunnerID] = entry
	r.byToken[runner.Token] = entry
}

// Invalidate drops any cached entry for runnerID. Called after every
// admin-API mutation so a just-rotated token or deactivated runner takes
// effect immediately rather than waiting out the TTL.
func (r *RunnerRegistry) Invalidate(runnerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byID[runnerID]; ok {
		delete(r.byToken, entry.runner.Token)
	}
	delete(r.byID, runnerID)
}

func (r *RunnerRegistry) Create(ctx context.Context, runner *models.Runner) (*models.Runner, error) {
	if err := runner.Validate(); err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	runner.Token = token
	runner.IsActive = true

	created, err := r.repo.CreateOrReactivate(ctx, runner)
	if err != nil {
		return nil, err
	}
	r.Invalidate(created.RunnerID)
	return created, nil
}

func (r *RunnerRegistry) Deactivate(ctx context.Context, runnerID string) error {
	if err := r.repo.Deactivate(ctx, runnerID); err != nil {
		return err
	}
	r.Invalidate(runnerID)
	return nil
}

func (r *RunnerRegistry) List(ctx context.Context) ([]*models.Runner, error) {
	return r.repo.List(ctx)
}

func newToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating runner token: %w", err)
	}
	return id.String(), nil
}
