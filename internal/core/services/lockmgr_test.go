package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockKey_Deterministic(t *testing.T) {
	a := lockKey("runner-1")
	b := lockKey("runner-1")
	assert.Equal(t, a, b, "lockKey must be a pure function of runner_id, stable across processes")
}

func TestLockKey_DiffersAcrossRunners(t *testing.T) {
	runners := []string{"runner-1", "runner-2", "runner-3", "runner-a-very-long-name-indeed"}
	seen := make(map[int64]string)
	for _, r := range runners {
		k := lockKey(r)
		if other, ok := seen[k]; ok {
			t.Fatalf("lockKey collision between %q and %q: both hash to %d", r, other, k)
		}
		seen[k] = r
	}
}

func TestLockKey_AlwaysNonNegative(t *testing.T) {
	// pg_advisory_lock takes a bigint; the 0x7FFFFFFF mask must keep every
	// key within the positive int32 range regardless of input.
	for _, r := range []string{"", "x", "runner-with-unicode-日本語", "00000000-0000-0000-0000-000000000000"} {
		assert.GreaterOrEqual(t, lockKey(r), int64(0))
	}
}
