package keylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds distributed lock settings
type RedisConfig struct {
	Prefix  string        // key prefix, default "lock:"
	TTL     time.Duration // how long a crashed holder can block a key
	MaxWait time.Duration // give up acquiring after this long
}

// Redis is a Locker shared by every engine instance using the same Redis
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis creates a distributed locker
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Second
	}
	return &Redis{client: client, cfg: cfg}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.cfg.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.MaxWait)

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}

		// 10-50ms backoff
		wait := 10*time.Millisecond + rand.N(40*time.Millisecond)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return func() {
		// release even when the attempt's context is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}
