package models

import "time"

// EventType names what happened
type EventType string

const (
	EventChallengeCompleted EventType = "challenge.completed"
	EventChallengeReset     EventType = "challenge.reset"
	EventLevelCompleted     EventType = "level.completed"
)

// Event is published on the event bus after a state change has been committed
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Participant string    `json:"participant"`
	World       string    `json:"world"`
	Challenge   string    `json:"challenge,omitempty"`
	Level       string    `json:"level,omitempty"`
	NewCount    int       `json:"new_count,omitempty"`
	Cleared     int       `json:"cleared,omitempty"`
	Actor       string    `json:"actor"`
	OccurredAt  time.Time `json:"occurred_at"`
}
