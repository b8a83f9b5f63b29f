package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/challenge-engine/internal/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisState_Snapshot(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	state := NewRedisState(client, "ce:")

	require.NoError(t, state.SetItem(ctx, "steve", "skyblock", "cobblestone", 64))
	require.NoError(t, state.SetStatistic(ctx, "steve", "skyblock", "stone_mined", 12))
	require.NoError(t, state.SetLocation(ctx, "steve", "skyblock", models.Location{World: "skyblock", Region: "spawn", X: 1.5, Y: 64, Z: -3}))

	snap, err := state.Snapshot(ctx, "steve", "skyblock")
	require.NoError(t, err)
	assert.Equal(t, 64, snap.ItemCount("cobblestone"))
	assert.Equal(t, int64(12), snap.Statistic("stone_mined"))
	require.NotNil(t, snap.Location)
	assert.Equal(t, "spawn", snap.Location.Region)
	assert.Equal(t, 1.5, snap.Location.X)
	assert.Equal(t, -3.0, snap.Location.Z)

	empty, err := state.Snapshot(ctx, "alex", "skyblock")
	require.NoError(t, err)
	assert.Zero(t, empty.ItemCount("cobblestone"))
	assert.Nil(t, empty.Location)
}

func TestRedisState_ApplyConsumptionIsAllOrNothing(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	state := NewRedisState(client, "")

	require.NoError(t, state.SetItem(ctx, "steve", "skyblock", "cobblestone", 64))
	require.NoError(t, state.SetItem(ctx, "steve", "skyblock", "iron", 1))

	err := state.ApplyConsumption(ctx, "steve", "skyblock", models.ConsumptionPlan{
		AttemptID: "a1",
		Items:     map[string]int{"cobblestone": 32, "iron": 2},
	})
	assert.ErrorIs(t, err, ErrInsufficientItems)

	snap, err := state.Snapshot(ctx, "steve", "skyblock")
	require.NoError(t, err)
	assert.Equal(t, 64, snap.ItemCount("cobblestone"))
	assert.Equal(t, 1, snap.ItemCount("iron"))
}

func TestRedisState_ApplyConsumptionIsIdempotentPerAttempt(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	state := NewRedisState(client, "")
	require.NoError(t, state.SetItem(ctx, "steve", "skyblock", "cobblestone", 64))

	plan := models.ConsumptionPlan{AttemptID: "a2", Items: map[string]int{"cobblestone": 10}}
	require.NoError(t, state.ApplyConsumption(ctx, "steve", "skyblock", plan))
	require.NoError(t, state.ApplyConsumption(ctx, "steve", "skyblock", plan))

	snap, err := state.Snapshot(ctx, "steve", "skyblock")
	require.NoError(t, err)
	assert.Equal(t, 54, snap.ItemCount("cobblestone"))

	// empty plans are a no-op, plans without id are rejected
	assert.NoError(t, state.ApplyConsumption(ctx, "steve", "skyblock", models.ConsumptionPlan{}))
	assert.Error(t, state.ApplyConsumption(ctx, "steve", "skyblock", models.ConsumptionPlan{Items: map[string]int{"cobblestone": 1}}))
}

func TestRegistry_RoutesByType(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	wallet := NewRedisWallet(client, "")
	inventory := NewRedisInventory(client, "")
	state := NewRedisState(client, "")

	reg := NewRegistry()
	reg.Register("points", wallet)
	reg.Register("money", wallet)
	reg.Register("item", inventory)
	assert.Equal(t, []string{"item", "money", "points"}, reg.List())

	require.NoError(t, reg.Grant(ctx, "steve", "skyblock", models.Reward{Type: "points", Amount: 5}))
	require.NoError(t, reg.Grant(ctx, "steve", "skyblock", models.Reward{Type: "points", Amount: 5}))
	require.NoError(t, reg.Grant(ctx, "steve", "skyblock", models.Reward{Type: "item", ID: "diamond", Amount: 2}))

	points, err := wallet.Balance(ctx, "steve", "skyblock", "points")
	require.NoError(t, err)
	assert.Equal(t, int64(10), points)

	money, err := wallet.Balance(ctx, "steve", "skyblock", "money")
	require.NoError(t, err)
	assert.Zero(t, money)

	snap, err := state.Snapshot(ctx, "steve", "skyblock")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ItemCount("diamond"))

	err = reg.Grant(ctx, "steve", "skyblock", models.Reward{Type: "title"})
	assert.True(t, errors.Is(err, ErrUnknownRewardType))

	health := reg.HealthCheckAll(ctx)
	assert.NoError(t, health["points"])
	assert.NotContains(t, health, "item")

	reg.Unregister("money")
	assert.Nil(t, reg.Get("money"))
}
