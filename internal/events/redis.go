package events

import (
	"context"
	"encoding/json"
	"fmt"

	"teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
)

// RedisPublisher publishes JSON events on Redis pub/sub, one channel per subject.
// The WebSocket stream pattern-subscribes to these channels.
type RedisPublisher struct {
	client *database.RedisClient
}

// NewRedisPublisher creates a Redis pub/sub publisher
func NewRedisPublisher(client *database.RedisClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.SafePublish(ctx, event.Subject(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", event.Subject(), err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller
func (p *RedisPublisher) Close() error { return nil }
