package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// ErrInsufficientItems is returned when a consumption plan cannot be covered
var ErrInsufficientItems = errors.New("insufficient items")

// consumeScript checks every item, then decrements all of them or none.
// KEYS[1] items hash, KEYS[2] attempt marker. ARGV[1] marker TTL in ms,
// followed by item/quantity pairs.
var consumeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 1
end
for i = 2, #ARGV, 2 do
	local have = tonumber(redis.call("HGET", KEYS[1], ARGV[i]) or "0")
	if have < tonumber(ARGV[i + 1]) then
		return redis.error_reply("INSUFFICIENT " .. ARGV[i])
	end
end
for i = 2, #ARGV, 2 do
	redis.call("HINCRBY", KEYS[1], ARGV[i], -tonumber(ARGV[i + 1]))
end
redis.call("SET", KEYS[2], "1", "PX", ARGV[1])
return 0
`)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, address, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// keyspace builds the participant state keys shared by the Redis collaborators
type keyspace struct {
	prefix string
}

func (k keyspace) state(world, participant, kind string) string {
	return fmt.Sprintf("%sstate:%s:%s:%s", k.prefix, world, participant, kind)
}

func (k keyspace) attempt(id string) string {
	return k.prefix + "attempt:" + id
}

// RedisState implements StateProvider and StateMutator over Redis hashes:
// items (id -> qty), stats (name -> value) and location (world, region, x, y, z).
type RedisState struct {
	client     *redis.Client
	keys       keyspace
	attemptTTL time.Duration
}

// NewRedisState creates a Redis-backed live state
func NewRedisState(client *redis.Client, prefix string) *RedisState {
	return &RedisState{client: client, keys: keyspace{prefix: prefix}, attemptTTL: 24 * time.Hour}
}

// Snapshot reads all three hashes in one round trip
func (s *RedisState) Snapshot(ctx context.Context, participant, world string) (*models.Snapshot, error) {
	pipe := s.client.Pipeline()
	items := pipe.HGetAll(ctx, s.keys.state(world, participant, "items"))
	stats := pipe.HGetAll(ctx, s.keys.state(world, participant, "stats"))
	loc := pipe.HGetAll(ctx, s.keys.state(world, participant, "location"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	snap := &models.Snapshot{
		Items:      make(map[string]int, len(items.Val())),
		Statistics: make(map[string]int64, len(stats.Val())),
	}
	for id, v := range items.Val() {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring malformed item count", "participant", participant, "item", id, "value", v)
			continue
		}
		snap.Items[id] = n
	}
	for name, v := range stats.Val() {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			slog.Warn("ignoring malformed statistic", "participant", participant, "statistic", name, "value", v)
			continue
		}
		snap.Statistics[name] = n
	}
	if l := loc.Val(); len(l) > 0 {
		snap.Location = &models.Location{World: l["world"], Region: l["region"]}
		snap.Location.X, _ = strconv.ParseFloat(l["x"], 64)
		snap.Location.Y, _ = strconv.ParseFloat(l["y"], 64)
		snap.Location.Z, _ = strconv.ParseFloat(l["z"], 64)
	}
	return snap, nil
}

// ApplyConsumption removes the planned items atomically. A plan whose
// AttemptID was already applied is ignored.
func (s *RedisState) ApplyConsumption(ctx context.Context, participant, world string, plan models.ConsumptionPlan) error {
	if plan.Empty() {
		return nil
	}
	if plan.AttemptID == "" {
		return fmt.Errorf("consumption plan without attempt id")
	}

	args := []any{s.attemptTTL.Milliseconds()}
	for item, qty := range plan.Items {
		if qty > 0 {
			args = append(args, item, qty)
		}
	}
	keys := []string{s.keys.state(world, participant, "items"), s.keys.attempt(plan.AttemptID)}

	if err := consumeScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		if item, ok := strings.CutPrefix(err.Error(), "INSUFFICIENT "); ok {
			return fmt.Errorf("%w: %s", ErrInsufficientItems, item)
		}
		return fmt.Errorf("failed to apply consumption: %w", err)
	}
	return nil
}

// SetItem overwrites the held quantity of an item
func (s *RedisState) SetItem(ctx context.Context, participant, world, item string, qty int) error {
	return s.client.HSet(ctx, s.keys.state(world, participant, "items"), item, qty).Err()
}

// SetStatistic overwrites a statistic value
func (s *RedisState) SetStatistic(ctx context.Context, participant, world, name string, value int64) error {
	return s.client.HSet(ctx, s.keys.state(world, participant, "stats"), name, value).Err()
}

// SetLocation records where the participant stands
func (s *RedisState) SetLocation(ctx context.Context, participant, world string, loc models.Location) error {
	return s.client.HSet(ctx, s.keys.state(world, participant, "location"),
		"world", loc.World, "region", loc.Region, "x", loc.X, "y", loc.Y, "z", loc.Z).Err()
}

// HealthCheck checks if Redis is reachable
func (s *RedisState) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RedisWallet grants currency rewards ("points", "money") into a per-world wallet hash
type RedisWallet struct {
	client *redis.Client
	keys   keyspace
}

// NewRedisWallet creates a wallet granter
func NewRedisWallet(client *redis.Client, prefix string) *RedisWallet {
	return &RedisWallet{client: client, keys: keyspace{prefix: prefix}}
}

func (w *RedisWallet) Grant(ctx context.Context, participant, world string, reward models.Reward) error {
	if err := w.client.HIncrBy(ctx, w.keys.state(world, participant, "wallet"), reward.Type, reward.Amount).Err(); err != nil {
		return fmt.Errorf("failed to grant %d %s: %w", reward.Amount, reward.Type, err)
	}
	return nil
}

// Balance returns the current amount of a currency
func (w *RedisWallet) Balance(ctx context.Context, participant, world, currency string) (int64, error) {
	v, err := w.client.HGet(ctx, w.keys.state(world, participant, "wallet"), currency).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (w *RedisWallet) HealthCheck(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// RedisInventory grants item rewards into the same hash RedisState reads
type RedisInventory struct {
	client *redis.Client
	keys   keyspace
}

// NewRedisInventory creates an item granter
func NewRedisInventory(client *redis.Client, prefix string) *RedisInventory {
	return &RedisInventory{client: client, keys: keyspace{prefix: prefix}}
}

func (i *RedisInventory) Grant(ctx context.Context, participant, world string, reward models.Reward) error {
	if reward.ID == "" {
		return fmt.Errorf("item reward without id")
	}
	if err := i.client.HIncrBy(ctx, i.keys.state(world, participant, "items"), reward.ID, reward.Amount).Err(); err != nil {
		return fmt.Errorf("failed to grant item %s: %w", reward.ID, err)
	}
	return nil
}
