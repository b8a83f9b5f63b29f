package storage

import (
	"context"
	"time"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// ProgressStore is the single source of truth for completion state.
//
// Every mutation is linearizable per progress key and durable before it
// returns. A missing record reads as zero completions.
type ProgressStore interface {
	// Queries
	GetCount(ctx context.Context, key models.ProgressKey) (int, error)
	IsComplete(ctx context.Context, key models.ProgressKey) (bool, error)
	Get(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error)
	List(ctx context.Context, participant, world string) ([]models.ProgressRecord, error)

	// IncrementCompletion adds one completion unless the count already reached
	// limit (0 = unbounded), in which case it returns ErrExhausted.
	IncrementCompletion(ctx context.Context, key models.ProgressKey, limit int, actor string) (*models.ProgressRecord, error)

	// Resets
	ResetOne(ctx context.Context, key models.ProgressKey, actor string) error
	ResetAll(ctx context.Context, participant, world, actor string) (int, error)
	ListResetAudit(ctx context.Context, participant, world string) ([]models.ResetAudit, error)
	PruneResetAudit(ctx context.Context, before time.Time) (int, error)

	// MarkLevelComplete records a level as complete, reporting false when it
	// was already recorded.
	MarkLevelComplete(ctx context.Context, participant, world, level string) (bool, error)
	// UnmarkLevelComplete drops the level marker so the level can be granted again
	UnmarkLevelComplete(ctx context.Context, participant, world, level string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// ClientStore looks up API clients for request authentication
type ClientStore interface {
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error
}

// Repository is the full persistence surface of a store
type Repository interface {
	ProgressStore
	ClientStore
}
