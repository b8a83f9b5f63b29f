package engine

import (
	"github.com/terra-clan/challenge-engine/internal/models"
)

// Outcome is the terminal state of a completion attempt
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeAlreadyAtMax     Outcome = "already_at_max"
	OutcomeUnsatisfied      Outcome = "unsatisfied"
	OutcomeUnknownChallenge Outcome = "unknown_challenge"
	OutcomeDeactivated      Outcome = "deactivated"
	OutcomeLevelLocked      Outcome = "level_locked"
)

// Attempt asks the engine to complete a challenge for a participant
type Attempt struct {
	Participant string
	World       string
	Challenge   string // short or world-qualified
	Snapshot    *models.Snapshot
	Actor       string // defaults to Participant
}

// Result describes how an attempt ended, with enough detail for the caller
// to render a message
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Challenge string  `json:"challenge"`
	AttemptID string  `json:"attempt_id,omitempty"`

	// NewCount is the completion count after a successful attempt,
	// or the current count when rejected by repeat rules
	NewCount int                    `json:"new_count"`
	Record   *models.ProgressRecord `json:"record,omitempty"`
	Missing  []models.Requirement   `json:"missing,omitempty"`
	Level    string                 `json:"level,omitempty"`

	Rewards  []models.Reward `json:"rewards,omitempty"`
	GrantErr error           `json:"-"`

	// ConsumptionApplied is set when items were taken but the store refused
	// the increment (another writer reached the limit first)
	ConsumptionApplied bool `json:"consumption_applied,omitempty"`
}

// Completed reports whether the attempt incremented the completion count
func (r *Result) Completed() bool {
	return r != nil && r.Outcome == OutcomeCompleted
}
