package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
)

// RedisEventChannel publishes domain events on a Redis pub/sub channel for
// downstream notification workers.
type RedisEventChannel struct {
	client  *redis.Client
	channel string
}

// NewRedisEventChannel constructs the publisher. A nil client makes Deliver a no-op.
func NewRedisEventChannel(client *redis.Client, channel string) *RedisEventChannel {
	return &RedisEventChannel{client: client, channel: channel}
}

// Deliver publishes the JSON encoded event.
func (c *RedisEventChannel) Deliver(ctx context.Context, event models.DomainEvent) error {
	if c.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}
