package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"teamchat-backend/internal/database"
	"teamchat-backend/pkg/cache"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/response"
)

// RateLimiter is a fixed-window limiter keyed by user, or by client IP before
// authentication. Counters live in Redis; while Redis is nil or degraded a
// per-instance in-memory counter is used instead.
type RateLimiter struct {
	client   *database.RedisClient
	fallback *cache.MemoryCache
	name     string
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing requests per window. name scopes
// the counters so several limiters can share Redis.
func NewRateLimiter(client *database.RedisClient, name string, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		fallback: cache.NewMemoryCache(window, 100000),
		name:     name,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, exists := c.Get(ContextUserID); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		count, resetAt := rl.hit(c.Request.Context(), identifier)

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count > int64(rl.requests) {
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// hit counts one request in the current window and returns the window total
func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int64, time.Time) {
	windowStart := rl.now().Truncate(rl.window)
	resetAt := windowStart.Add(rl.window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.name, identifier, windowStart.Unix())

	if rl.client != nil && !rl.client.IsDegraded() {
		count, err := rl.client.SafeIncrWithTTL(ctx, key, rl.window)
		if err == nil {
			return count, resetAt
		}
		logger.Warn("Redis rate limit check failed, using in-memory counter",
			zap.String("limiter", rl.name),
			zap.Error(err))
	}

	var count int64
	rl.fallback.Update(key, rl.window, func(value interface{}, found bool) (interface{}, bool) {
		if n, ok := value.(int64); ok && found {
			count = n + 1
		} else {
			count = 1
		}
		return count, true
	})
	return count, resetAt
}
