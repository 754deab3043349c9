package memory

import (
	"context"
	"time"

	"teamchat-backend/pkg/cache"
)

// EphemeralStore is a TTL key/value and hash store backed by cache.MemoryCache
type EphemeralStore struct {
	cache *cache.MemoryCache
}

// NewEphemeralStore creates an unbounded in-memory ephemeral store
func NewEphemeralStore(opts ...cache.Option) *EphemeralStore {
	return &EphemeralStore{cache: cache.NewMemoryCache(time.Hour, 0, opts...)}
}

// StartCleanup periodically drops expired keys
func (s *EphemeralStore) StartCleanup(interval time.Duration) func() {
	return s.cache.StartCleanup(interval)
}

// Set stores a string value with a TTL
func (s *EphemeralStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.cache.Set(key, value, ttl)
	return nil
}

// Get returns the string value of key and whether it exists
func (s *EphemeralStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	str, ok := v.(string)
	return str, ok, nil
}

// Exists reports whether key is present
func (s *EphemeralStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := s.cache.Get(key)
	return ok, nil
}

// Delete removes keys
func (s *EphemeralStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

// HSet writes hash fields and refreshes the hash TTL
func (s *EphemeralStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.cache.Update(key, ttl, func(value interface{}, found bool) (interface{}, bool) {
		next := copyHash(value)
		for k, v := range fields {
			next[k] = v
		}
		return next, true
	})
	return nil
}

// HGetAll returns a copy of every field of a hash
func (s *EphemeralStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return map[string]string{}, nil
	}
	return copyHash(v), nil
}

// HDel removes hash fields without touching the hash TTL. An emptied hash is removed.
func (s *EphemeralStore) HDel(ctx context.Context, key string, fields ...string) error {
	s.cache.Update(key, cache.KeepTTL, func(value interface{}, found bool) (interface{}, bool) {
		if !found {
			return nil, false
		}
		next := copyHash(value)
		for _, f := range fields {
			delete(next, f)
		}
		return next, len(next) > 0
	})
	return nil
}

func copyHash(value interface{}) map[string]string {
	current, _ := value.(map[string]string)
	out := make(map[string]string, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}
