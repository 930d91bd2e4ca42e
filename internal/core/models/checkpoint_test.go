package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCheckpointName_MatchesItsOwnPattern(t *testing.T) {
	name, err := NewCheckpointName("job-42")
	require.NoError(t, err)
	assert.True(t, IsValidCheckpointName(name), "generated name %q must satisfy its own validator", name)
}

func TestNewCheckpointName_NoCollisionAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		name, err := NewCheckpointName("job-1")
		require.NoError(t, err)
		assert.False(t, seen[name], "duplicate checkpoint name generated: %s", name)
		seen[name] = true
	}
}

func TestIsValidCheckpointName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"well-formed", "job-build-123-1700000000-deadbeef", true},
		{"missing hex suffix", "job-build-123-1700000000", false},
		{"short hex suffix", "job-build-123-1700000000-dead", false},
		{"no job- prefix", "build-123-1700000000-deadbeef", false},
		{"empty", "", false},
		{"path traversal attempt", "job-../../etc-123-deadbeef", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidCheckpointName(tt.input))
		})
	}
}

func TestIsActiveState(t *testing.T) {
	assert.True(t, IsActiveState(StateCreated))
	assert.True(t, IsActiveState(StateFinalizeQueued))
	assert.False(t, IsActiveState(StateReset))
	assert.False(t, IsActiveState(StateDeleted))
	assert.False(t, IsActiveState(StateGCReset))
}

func TestIsTerminalState(t *testing.T) {
	assert.True(t, IsTerminalState(StateReset))
	assert.True(t, IsTerminalState(StateDeleted))
	assert.True(t, IsTerminalState(StateGCReset))
	assert.False(t, IsTerminalState(StateCreated))
	assert.False(t, IsTerminalState(StateFinalizeQueued))
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    CheckpointState
		to      CheckpointState
		allowed bool
	}{
		{"created to finalize_queued", StateCreated, StateFinalizeQueued, true},
		{"created to gc_reset", StateCreated, StateGCReset, true},
		{"created to deleted (must go through finalize_queued)", StateCreated, StateDeleted, false},
		{"finalize_queued to reset", StateFinalizeQueued, StateReset, true},
		{"finalize_queued to deleted", StateFinalizeQueued, StateDeleted, true},
		{"finalize_queued to gc_reset", StateFinalizeQueued, StateGCReset, false},
		{"reset is terminal, no outgoing edges", StateReset, StateCreated, false},
		{"deleted is terminal, no outgoing edges", StateDeleted, StateFinalizeQueued, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStateFor(t *testing.T) {
	tests := []struct {
		status FinalizeStatus
		want   CheckpointState
	}{
		{FinalizeSuccess, StateDeleted},
		{FinalizeFailure, StateReset},
		{FinalizeCanceled, StateReset},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, TerminalStateFor(tt.status))
		})
	}
}
