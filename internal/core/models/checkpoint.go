package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

type CheckpointState string

const (
	StateCreated        CheckpointState = "created"
	StateFinalizeQueued CheckpointState = "finalize_queued"
	StateReset          CheckpointState = "reset"
	StateDeleted        CheckpointState = "deleted"
	StateGCReset        CheckpointState = "gc_reset"
)

// ActiveStates are the states a runner can only have one checkpoint in at
// a time (enforced by a partial unique index on runner_id).
var ActiveStates = []CheckpointState{StateCreated, StateFinalizeQueued}

// TerminalStates are states queue_finalize treats as already-done.
var TerminalStates = []CheckpointState{StateReset, StateDeleted, StateGCReset}

func IsActiveState(s CheckpointState) bool {
	for _, a := range ActiveStates {
		if a == s {
			return true
		}
	}
	return false
}

func IsTerminalState(s CheckpointState) bool {
	for _, t := range TerminalStates {
		if t == s {
			return true
		}
	}
	return false
}

// validTransitions enumerates the state machine's allowed edges.
// FinalizeWorker and GCService do not consult it; they re-read the row
// under a FOR UPDATE lock and check its state before writing a new one.
var validTransitions = map[CheckpointState][]CheckpointState{
	StateCreated:        {StateFinalizeQueued, StateGCReset},
	StateFinalizeQueued: {StateReset, StateDeleted},
}

func IsValidTransition(from, to CheckpointState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TerminalStateFor maps a finalize outcome to the checkpoint's terminal
// state per §8 E1/E2: success ends in deleted, failure and canceled both
// end in reset.
func TerminalStateFor(status FinalizeStatus) CheckpointState {
	if status == FinalizeSuccess {
		return StateDeleted
	}
	return StateReset
}

type FinalizeStatus string

const (
	FinalizeSuccess  FinalizeStatus = "success"
	FinalizeFailure  FinalizeStatus = "failure"
	FinalizeCanceled FinalizeStatus = "canceled"
)

type FinalizeSource string

const (
	SourceHook    FinalizeSource = "hook"
	SourcePoller  FinalizeSource = "poller"
	SourceWebhook FinalizeSource = "webhook"
	SourceAgent   FinalizeSource = "agent"
	SourceGC      FinalizeSource = "gc"
)

// Checkpoint is one create->finalize lifecycle for a single CI job on a
// single runner.
type Checkpoint struct {
	ID             uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	Name           string          `json:"name" gorm:"type:varchar(255);uniqueIndex"`
	RunnerID       string          `json:"runner_id" gorm:"type:varchar(255);index"`
	JobID          string          `json:"job_id" gorm:"type:varchar(255)"`
	State          CheckpointState `json:"state" gorm:"type:varchar(32);index"`
	FinalizeStatus *FinalizeStatus `json:"finalize_status,omitempty" gorm:"type:varchar(32)"`
	FinalizeSource *FinalizeSource `json:"finalize_source,omitempty" gorm:"type:varchar(32)"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime"`
	FinalizedAt    *time.Time      `json:"finalized_at,omitempty"`
}

var checkpointNamePattern = regexp.MustCompile(`^job-[A-Za-z0-9_.\-]+-[0-9]+-[0-9a-f]{8}$`)

// IsValidCheckpointName reports whether name matches the controller's
// generated-name shape; used to reject hand-crafted names at the API
// boundary before they ever reach the store.
func IsValidCheckpointName(name string) bool {
	return checkpointNamePattern.MatchString(name)
}

// NewCheckpointName builds a checkpoint name in the job-<id>-<unix>-<hex8>
// shape. Uses crypto/rand, never a seeded PRNG, so that two controller
// replicas creating checkpoints for the same job in the same second still
// can't collide.
func NewCheckpointName(jobID string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating checkpoint suffix: %w", err)
	}
	return fmt.Sprintf("job-%s-%d-%s", jobID, time.Now().Unix(), hex.EncodeToString(buf)), nil
}
