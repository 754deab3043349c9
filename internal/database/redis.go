package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamchat-backend/pkg/logger"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps Redis client with degraded mode support
type RedisClient struct {
	Client         *redis.Client
	degradedMode   bool
	degradedModeMu sync.RWMutex
	healthCheckMu  sync.Mutex
	metrics        *redisMetrics
}

// redisMetrics tracks Redis-related metrics
type redisMetrics struct {
	degradedMode prometheus.Gauge
	healthCheck  prometheus.Counter
}

var (
	// Global metrics instance
	redisMetricsInstance *redisMetrics
	redisMetricsOnce     sync.Once
)

// InitRedisMetrics initializes and registers Redis metrics with Prometheus
// This should be called explicitly in main() before metrics are used
func InitRedisMetrics() {
	redisMetricsOnce.Do(func() {
		redisMetricsInstance = &redisMetrics{
			degradedMode: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "redis_degraded_mode",
				Help: "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
			}),
			healthCheck: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redis_health_check_total",
				Help: "Total number of Redis health checks",
			}),
		}
		// Register metrics with Prometheus
		prometheus.MustRegister(redisMetricsInstance.degradedMode)
		prometheus.MustRegister(redisMetricsInstance.healthCheck)
	})
}

// getRedisMetrics returns the Redis metrics instance
// This function is called after InitRedisMetrics() has been called
func getRedisMetrics() *redisMetrics {
	return redisMetricsInstance
}

// NewRedisClient wraps an existing go-redis client, e.g. one pointed at miniredis in tests
func NewRedisClient(client *redis.Client) *RedisClient {
	return &RedisClient{Client: client, metrics: getRedisMetrics()}
}

// NewRedisDB creates a new Redis client from config with degraded mode support
func NewRedisDB(cfg *RedisConfig) (*RedisClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})

	rc := &RedisClient{
		Client:  client,
		metrics: getRedisMetrics(),
	}

	// Start degraded rather than failing; the health check flips the flag back
	if err := rc.HealthCheck(context.Background()); err != nil {
		logger.Warn("Redis unavailable at startup, running in degraded mode",
			zap.String("addr", addr),
			zap.Error(err))
	}

	return rc, nil
}

// Close closes the Redis client connection
func (r *RedisClient) Close() {
	r.Client.Close()
}

// StartHealthCheck starts a background goroutine that periodically checks Redis health
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Context cancelled, stop health check
				return
			case <-ticker.C:
				// Perform health check
				if err := r.HealthCheck(ctx); err != nil {
					logger.Warn("Redis health check failed, entering degraded mode", zap.Error(err))
				}
			}
		}
	}()
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedModeMu.RLock()
	defer r.degradedModeMu.RUnlock()
	return r.degradedMode
}

// setDegradedMode sets the degraded mode state and updates metrics
func (r *RedisClient) setDegradedState(degraded bool) {
	r.degradedModeMu.Lock()
	defer r.degradedModeMu.Unlock()

	if r.degradedMode != degraded {
		r.degradedMode = degraded
		if r.metrics != nil {
			if r.degradedMode {
				r.metrics.degradedMode.Set(1)
			} else {
				r.metrics.degradedMode.Set(0)
			}
		}
	}
}

// HealthCheck performs a health check on Redis and updates degraded mode
// It uses a mutex to prevent concurrent health checks from overwhelming Redis
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	// Use a short timeout for health checks
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := r.Client.Ping(healthCtx).Err()
	if err != nil {
		// Redis is unavailable, enter degraded mode
		r.setDegradedState(true)
		return fmt.Errorf("redis health check failed: %w", err)
	}

	// Redis is healthy, exit degraded mode
	r.setDegradedState(false)

	// Increment health check counter
	if r.metrics != nil {
		r.metrics.healthCheck.Inc()
	}

	return nil
}

// SafeGet performs a GET operation with degraded mode handling
func (r *RedisClient) SafeGet(ctx context.Context, key string) *redis.StringCmd {
	if r.IsDegraded() {
		return redis.NewStringResult("", fmt.Errorf("redis is in degraded mode, get skipped"))
	}
	return r.Client.Get(ctx, key)
}

// SafeSet performs a SET operation with degraded mode handling
func (r *RedisClient) SafeSet(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if r.IsDegraded() {
		return redis.NewStatusResult("", fmt.Errorf("redis is in degraded mode, set skipped"))
	}
	return r.Client.Set(ctx, key, value, expiration)
}

// SafeDel performs a DEL operation with degraded mode handling
func (r *RedisClient) SafeDel(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, fmt.Errorf("redis is in degraded mode, del skipped"))
	}
	return r.Client.Del(ctx, keys...)
}

// SafeExists performs an EXISTS operation with degraded mode handling
func (r *RedisClient) SafeExists(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, fmt.Errorf("redis is in degraded mode, exists skipped"))
	}
	return r.Client.Exists(ctx, keys...)
}

// SafeHSetWithTTL writes hash fields and refreshes the key TTL in one MULTI/EXEC
func (r *RedisClient) SafeHSetWithTTL(ctx context.Context, key string, fields map[string]interface{}, expiration time.Duration) error {
	if r.IsDegraded() {
		return fmt.Errorf("redis is in degraded mode, hset skipped")
	}
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, expiration)
		return nil
	})
	return err
}

// SafeIncrWithTTL increments a counter and sets its TTL in one MULTI/EXEC
func (r *RedisClient) SafeIncrWithTTL(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	if r.IsDegraded() {
		return 0, fmt.Errorf("redis is in degraded mode, incr skipped")
	}
	var incr *redis.IntCmd
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, expiration)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// SafeHGetAll performs an HGETALL operation with degraded mode handling
func (r *RedisClient) SafeHGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	if r.IsDegraded() {
		return redis.NewMapStringStringResult(nil, fmt.Errorf("redis is in degraded mode, hgetall skipped"))
	}
	return r.Client.HGetAll(ctx, key)
}

// SafeHDel performs an HDEL operation with degraded mode handling
func (r *RedisClient) SafeHDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, fmt.Errorf("redis is in degraded mode, hdel skipped"))
	}
	return r.Client.HDel(ctx, key, fields...)
}

// SafePublish performs a PUBLISH operation with degraded mode handling
func (r *RedisClient) SafePublish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, fmt.Errorf("redis is in degraded mode, publish skipped"))
	}
	return r.Client.Publish(ctx, channel, message)
}

// SafePSubscribe performs a PSUBSCRIBE operation with degraded mode handling
func (r *RedisClient) SafePSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	if r.IsDegraded() {
		return nil // Return nil to indicate no subscription in degraded mode
	}
	return r.Client.PSubscribe(ctx, patterns...)
}

// SafeZAdd performs a ZADD operation with degraded mode handling
func (r *RedisClient) SafeZAdd(ctx context.Context, key string, member interface{}, score float64) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, fmt.Errorf("redis is in degraded mode, zadd skipped"))
	}
	return r.Client.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
}

// SafeZRem performs a ZREM operation with degraded mode handling
func (r *RedisClient) SafeZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, fmt.Errorf("redis is in degraded mode, zrem skipped"))
	}
	return r.Client.ZRem(ctx, key, members...)
}

// SafeZRangeByScore performs a ZRANGEBYSCORE operation with degraded mode handling
func (r *RedisClient) SafeZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	if r.IsDegraded() {
		return redis.NewStringSliceResult([]string{}, fmt.Errorf("redis is in degraded mode, zrangebyscore skipped"))
	}
	return r.Client.ZRangeByScore(ctx, key, opt)
}

// SafeRunScript runs a Lua script (EVALSHA with EVAL fallback) with degraded mode handling
func (r *RedisClient) SafeRunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) *redis.Cmd {
	if r.IsDegraded() {
		return redis.NewCmdResult(nil, fmt.Errorf("redis is in degraded mode, script skipped"))
	}
	return script.Run(ctx, r.Client, keys, args...)
}
