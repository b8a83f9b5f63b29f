package models

import (
	"fmt"
	"time"
)

// ProgressKey identifies one participant's progress on one challenge
type ProgressKey struct {
	Participant string `json:"participant"`
	World       string `json:"world"`
	Challenge   string `json:"challenge"`
}

func (k ProgressKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.World, k.Participant, k.Challenge)
}

// LockKey encodes the key for lock backends. Every part is length-prefixed,
// so distinct keys never share a lock whatever characters the names hold.
func (k ProgressKey) LockKey() string {
	return fmt.Sprintf("%d:%s%d:%s%d:%s",
		len(k.World), k.World, len(k.Participant), k.Participant, len(k.Challenge), k.Challenge)
}

// ProgressRecord is the persisted completion state for a key.
// Absence of a record means zero completions.
type ProgressRecord struct {
	ProgressKey
	CompletionCount  int        `json:"completion_count"`
	FirstCompletedAt *time.Time `json:"first_completed_at,omitempty"`
	LastCompletedAt  *time.Time `json:"last_completed_at,omitempty"`
	LastModifiedBy   string     `json:"last_modified_by"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsComplete returns true once the challenge was completed at least once
func (r *ProgressRecord) IsComplete() bool {
	return r != nil && r.CompletionCount >= 1
}

// ResetAudit records who cleared completion records and when.
// Challenge is empty for a reset of every challenge in the world.
type ResetAudit struct {
	ID          int64     `json:"id"`
	Participant string    `json:"participant"`
	World       string    `json:"world"`
	Challenge   string    `json:"challenge,omitempty"`
	Actor       string    `json:"actor"`
	Cleared     int       `json:"cleared"`
	PerformedAt time.Time `json:"performed_at"`
}

// LevelStatus is the derived unlock state of a level for one participant
type LevelStatus struct {
	Level        string `json:"level"`
	FriendlyName string `json:"friendly_name"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	Unlocked     bool   `json:"unlocked"`
	Complete     bool   `json:"complete"`
}
