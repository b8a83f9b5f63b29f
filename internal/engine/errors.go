package engine

import (
	"errors"

	"github.com/terra-clan/challenge-engine/internal/storage"
)

// Common errors
var (
	ErrUnknownChallenge = errors.New("unknown challenge")
	ErrConsumption      = errors.New("failed to apply consumption")
	ErrLock             = errors.New("failed to lock progress")

	// ErrNotCompleted is returned when resetting a challenge with no completions
	ErrNotCompleted = storage.ErrNotCompleted
)
