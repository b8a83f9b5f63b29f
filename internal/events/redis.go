package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// DefaultChannel is the Redis pub/sub channel events are published on
const DefaultChannel = "challenge-events"

// RedisPublisher forwards bus events to a Redis channel for other services
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Listener returns a bus listener publishing every event
func (p *RedisPublisher) Listener() Listener {
	return func(ctx context.Context, ev models.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		return nil
	}
}
