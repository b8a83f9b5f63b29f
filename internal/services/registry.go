package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// ErrUnknownRewardType is returned when no granter handles a reward type
var ErrUnknownRewardType = errors.New("unknown reward type")

// Registry routes rewards to granters by reward type
type Registry struct {
	mu       sync.RWMutex
	granters map[string]RewardGranter
}

// NewRegistry creates a new granter registry
func NewRegistry() *Registry {
	return &Registry{
		granters: make(map[string]RewardGranter),
	}
}

// Register adds a granter for a reward type
func (r *Registry) Register(rewardType string, granter RewardGranter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granters[rewardType] = granter
}

// Get retrieves the granter for a reward type
func (r *Registry) Get(rewardType string) RewardGranter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.granters[rewardType]
}

// List returns all registered reward types
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.granters))
	for t := range r.granters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Unregister removes a granter
func (r *Registry) Unregister(rewardType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.granters, rewardType)
}

// Grant implements RewardGranter by dispatching on reward.Type
func (r *Registry) Grant(ctx context.Context, participant, world string, reward models.Reward) error {
	g := r.Get(reward.Type)
	if g == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRewardType, reward.Type)
	}
	return g.Grant(ctx, participant, world, reward)
}

// HealthCheckAll checks every granter that supports health checks
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error)
	for t, g := range r.granters {
		if hc, ok := g.(HealthChecker); ok {
			results[t] = hc.HealthCheck(ctx)
		}
	}
	return results
}
