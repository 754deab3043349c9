package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"teamchat-backend/internal/database"
	"teamchat-backend/pkg/metrics"
)

// EphemeralStore keeps TTL-bounded presence, heartbeat and typing state in Redis
type EphemeralStore struct {
	client  *database.RedisClient
	metrics *metrics.Metrics
}

// NewEphemeralStore creates a new EphemeralStore. m may be nil.
func NewEphemeralStore(client *database.RedisClient, m *metrics.Metrics) *EphemeralStore {
	return &EphemeralStore{client: client, metrics: m}
}

// Set stores a string value with a TTL
func (s *EphemeralStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.client.SafeSet(ctx, key, value, ttl).Err()
	s.metrics.RecordRedisCommand("set", err)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get returns the value of key and whether it exists
func (s *EphemeralStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.SafeGet(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		s.metrics.RecordRedisCommand("get", nil)
		return "", false, nil
	}
	s.metrics.RecordRedisCommand("get", err)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Exists reports whether key is present
func (s *EphemeralStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.SafeExists(ctx, key).Result()
	s.metrics.RecordRedisCommand("exists", err)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes keys
func (s *EphemeralStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.client.SafeDel(ctx, keys...).Err()
	s.metrics.RecordRedisCommand("del", err)
	if err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// HSet writes hash fields and refreshes the hash TTL
func (s *EphemeralStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	err := s.client.SafeHSetWithTTL(ctx, key, values, ttl)
	s.metrics.RecordRedisCommand("hset", err)
	if err != nil {
		return fmt.Errorf("failed to hset %s: %w", key, err)
	}
	return nil
}

// HGetAll returns every field of a hash; a missing key yields an empty map
func (s *EphemeralStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.SafeHGetAll(ctx, key).Result()
	s.metrics.RecordRedisCommand("hgetall", err)
	if err != nil {
		return nil, fmt.Errorf("failed to hgetall %s: %w", key, err)
	}
	return fields, nil
}

// HDel removes hash fields without touching the hash TTL
func (s *EphemeralStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	err := s.client.SafeHDel(ctx, key, fields...).Err()
	s.metrics.RecordRedisCommand("hdel", err)
	if err != nil {
		return fmt.Errorf("failed to hdel %s: %w", key, err)
	}
	return nil
}
