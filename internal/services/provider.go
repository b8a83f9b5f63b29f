package services

import (
	"context"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// StateProvider reports a participant's live state at call time
type StateProvider interface {
	Snapshot(ctx context.Context, participant, world string) (*models.Snapshot, error)
}

// StateMutator applies consumption plans to live state.
// Implementations must treat a repeated plan with the same AttemptID as a no-op.
type StateMutator interface {
	ApplyConsumption(ctx context.Context, participant, world string, plan models.ConsumptionPlan) error
}

// RewardGranter hands a reward to a participant
type RewardGranter interface {
	Grant(ctx context.Context, participant, world string, reward models.Reward) error
}

// HealthChecker is implemented by collaborators backed by a remote service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
