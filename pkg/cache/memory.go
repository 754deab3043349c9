package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"teamchat-backend/pkg/logger"
)

// KeepTTL tells Update to leave the entry's current expiry unchanged
const KeepTTL time.Duration = -1

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// cacheEntry represents a single cache entry
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
	createdAt time.Time
}

// Option customizes a MemoryCache
type Option func(*MemoryCache)

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(mc *MemoryCache) {
		mc.now = now
	}
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(defaultTTL time.Duration, maxSize int, opts ...Option) *MemoryCache {
	mc := &MemoryCache{
		data:    make(map[string]*cacheEntry),
		ttl:     defaultTTL,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(mc)
	}
	return mc
}

// Set stores a value in the cache with TTL
func (mc *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.setLocked(key, value, ttl)

	logger.Debug("Cache entry added",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
		zap.Int("size", len(mc.data)),
	)
}

func (mc *MemoryCache) setLocked(key string, value interface{}, ttl time.Duration) {
	// Use default TTL if not provided
	if ttl == 0 {
		ttl = mc.ttl
	}

	now := mc.now()
	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	mc.data[key] = &cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
}

// Get retrieves a value from the cache
func (mc *MemoryCache) Get(key string) (interface{}, bool) {
	mc.mu.RLock()
	entry, exists := mc.data[key]
	var value interface{}
	var expiresAt time.Time
	if exists {
		value, expiresAt = entry.value, entry.expiresAt
	}
	mc.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if mc.now().After(expiresAt) {
		mc.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it
		if current, ok := mc.data[key]; ok && current == entry {
			delete(mc.data, key)
		}
		mc.mu.Unlock()
		return nil, false
	}

	return value, true
}

// Update atomically reads, transforms and writes an entry. fn receives the current
// live value (found=false if missing or expired) and returns the new value and
// whether to keep it; keep=false deletes the key. ttl=KeepTTL preserves the
// existing expiry, falling back to the default TTL for new entries.
func (mc *MemoryCache) Update(key string, ttl time.Duration, fn func(value interface{}, found bool) (interface{}, bool)) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.data[key]
	if exists && mc.now().After(entry.expiresAt) {
		delete(mc.data, key)
		entry, exists = nil, false
	}

	var current interface{}
	if exists {
		current = entry.value
	}

	next, keep := fn(current, exists)
	if !keep {
		delete(mc.data, key)
		return
	}

	if ttl == KeepTTL && exists {
		mc.data[key] = &cacheEntry{value: next, expiresAt: entry.expiresAt, createdAt: entry.createdAt}
		return
	}
	if ttl == KeepTTL {
		ttl = 0
	}
	mc.setLocked(key, next, ttl)
}

// Expire resets the TTL of a live entry. It reports whether the key existed.
func (mc *MemoryCache) Expire(key string, ttl time.Duration) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.data[key]
	now := mc.now()
	if !exists || now.After(entry.expiresAt) {
		delete(mc.data, key)
		return false
	}
	mc.data[key] = &cacheEntry{value: entry.value, expiresAt: now.Add(ttl), createdAt: entry.createdAt}
	return true
}

// Delete removes a value from the cache
func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.data, key)
	logger.Debug("Cache entry deleted", zap.String("key", key))
}

// evictOldest removes the oldest entry from the cache
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range mc.data {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		logger.Debug("Cache entry evicted",
			zap.String("key", oldestKey),
			zap.Time("created_at", oldestTime),
		)
	}
}

// Len returns the number of stored entries, counting expired ones not yet cleaned up
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return len(mc.data)
}

// cleanupExpired removes expired entries from the cache
func (mc *MemoryCache) cleanupExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	expiredCount := 0

	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		logger.Debug("Expired cache entries cleaned up",
			zap.Int("count", expiredCount),
			zap.Int("remaining", len(mc.data)),
		)
	}
}

// StartCleanup starts a goroutine to clean up expired entries
// Returns a stop function that can be called to cancel the cleanup goroutine
func (mc *MemoryCache) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mc.cleanupExpired()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
