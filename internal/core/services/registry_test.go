package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/theblitlabs/parity-server/internal/core/models"
)

func newTestRegistry() *RunnerRegistry {
	return &RunnerRegistry{
		ttl:     time.Minute,
		byID:    make(map[string]cacheEntry),
		byToken: make(map[string]cacheEntry),
	}
}

func TestRegistry_PutThenGetCached_HitsBeforeExpiry(t *testing.T) {
	r := newTestRegistry()
	runner := &models.Runner{RunnerID: "runner-1", Token: "tok-1"}
	r.put(runner)

	got, ok := r.getCached(r.byID, "runner-1")
	assert.True(t, ok)
	assert.Same(t, runner, got)

	got, ok = r.getCached(r.byToken, "tok-1")
	assert.True(t, ok)
	assert.Same(t, runner, got)
}

func TestRegistry_GetCached_MissOnUnknownKey(t *testing.T) {
	r := newTestRegistry()
	_, ok := r.getCached(r.byID, "nonexistent")
	assert.False(t, ok)
}

func TestRegistry_GetCached_MissAfterExpiry(t *testing.T) {
	r := newTestRegistry()
	runner := &models.Runner{RunnerID: "runner-1", Token: "tok-1"}
	// Inject an already-expired entry directly, bypassing the ttl field,
	// to avoid a real sleep in the test.
	r.byID["runner-1"] = cacheEntry{runner: runner, expiresAt: time.Now().Add(-time.Second)}

	_, ok := r.getCached(r.byID, "runner-1")
	assert.False(t, ok, "entry past its expiresAt must be treated as a miss")
}

func TestRegistry_Invalidate_DropsBothIndexes(t *testing.T) {
	r := newTestRegistry()
	runner := &models.Runner{RunnerID: "runner-1", Token: "tok-1"}
	r.put(runner)

	r.Invalidate("runner-1")

	_, ok := r.getCached(r.byID, "runner-1")
	assert.False(t, ok)
	_, ok = r.getCached(r.byToken, "tok-1")
	assert.False(t, ok, "invalidating by runner_id must also drop the token-keyed entry")
}

func TestRegistry_Invalidate_UnknownRunnerIsNoop(t *testing.T) {
	r := newTestRegistry()
	assert.NotPanics(t, func() { r.Invalidate("never-seen") })
}

func TestRegistry_Put_OverwritesPriorEntryForSameRunner(t *testing.T) {
	r := newTestRegistry()
	first := &models.Runner{RunnerID: "runner-1", Token: "tok-old"}
	second := &models.Runner{RunnerID: "runner-1", Token: "tok-new"}

	r.put(first)
	r.put(second)

	got, ok := r.getCached(r.byID, "runner-1")
	assert.True(t, ok)
	assert.Same(t, second, got)

	// The old token index entry is orphaned (no Invalidate was called
	// between puts) but must not resolve to the stale runner forever once
	// a fresh lookup re-populates it; here it simply still points at the
	// old snapshot, which is expected until the caller invalidates.
	got, ok = r.getCached(r.byToken, "tok-old")
	assert.True(t, ok)
	assert.Same(t, first, got)
}
