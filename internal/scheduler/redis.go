package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamchat-backend/internal/database"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

// DefaultLease is how long a claimed token stays hidden from other pollers
const DefaultLease = 30 * time.Second

// claimScript leases a due token by moving its score to the lease deadline.
// It only succeeds while the token is still due, so one poller wins.
var claimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
	return 1
end
return 0
`)

// releaseScript drops a handled token unless it was rescheduled meanwhile
var releaseScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// RedisScheduler keeps pending tokens in a sorted set scored by due time in
// unix milliseconds. Any instance may run the poll loop. A due token is claimed
// by re-scoring it to now+lease and removed only after its handler succeeds,
// so a poller that dies mid-handler leaves the token to fire again.
type RedisScheduler struct {
	client    *database.RedisClient
	key       string
	poll      time.Duration
	retryWait time.Duration
	lease     time.Duration
	batch     int64
	now       func() time.Time
}

// RedisOption customizes a RedisScheduler
type RedisOption func(*RedisScheduler)

// WithClock overrides the time source
func WithClock(now func() time.Time) RedisOption {
	return func(s *RedisScheduler) { s.now = now }
}

// WithLease overrides DefaultLease
func WithLease(lease time.Duration) RedisOption {
	return func(s *RedisScheduler) { s.lease = lease }
}

// NewRedisScheduler creates a scheduler backed by the sorted set at key
func NewRedisScheduler(client *database.RedisClient, key string, poll, retryWait time.Duration, opts ...RedisOption) *RedisScheduler {
	s := &RedisScheduler{
		client:    client,
		key:       key,
		poll:      poll,
		retryWait: retryWait,
		lease:     DefaultLease,
		batch:     100,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleAfter adds or moves token to fire after delay
func (s *RedisScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, token string) error {
	due := s.now().Add(delay).UnixMilli()
	if err := s.client.SafeZAdd(ctx, s.key, token, float64(due)).Err(); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", token, err)
	}
	return nil
}

// Cancel removes a pending token
func (s *RedisScheduler) Cancel(ctx context.Context, token string) error {
	if err := s.client.SafeZRem(ctx, s.key, token).Err(); err != nil {
		return fmt.Errorf("failed to cancel %s: %w", token, err)
	}
	return nil
}

// RunDue claims and handles every token whose due time has passed.
// It returns the number of tokens this instance handled.
func (s *RedisScheduler) RunDue(ctx context.Context, h Handler) (int, error) {
	tokens, err := s.client.SafeZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: s.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read due tokens: %w", err)
	}

	handled := 0
	for _, token := range tokens {
		leaseUntil, claimed, err := s.claim(ctx, token)
		if err != nil {
			return handled, err
		}
		if !claimed {
			// Another instance or a Cancel got there first
			continue
		}
		handled++

		if err := h(ctx, token); err != nil {
			metrics.SchedulerTasksTotal.WithLabelValues("retried").Inc()
			logger.Error("Scheduled task failed, retrying",
				zap.String("token", token),
				zap.Duration("retry_in", s.retryWait),
				zap.Error(err))
			if err := s.ScheduleAfter(ctx, s.retryWait, token); err != nil {
				// The lease still expires, so the token fires again later
				logger.Error("Failed to re-arm scheduled task", zap.String("token", token), zap.Error(err))
			}
			continue
		}

		if err := s.client.SafeRunScript(ctx, releaseScript, []string{s.key}, token, leaseUntil).Err(); err != nil {
			logger.Warn("Failed to release scheduled task, it will fire again after the lease",
				zap.String("token", token),
				zap.Error(err))
		}
		metrics.SchedulerTasksTotal.WithLabelValues("fired").Inc()
	}

	return handled, nil
}

// claim leases a due token and returns the lease deadline in unix milliseconds
func (s *RedisScheduler) claim(ctx context.Context, token string) (int64, bool, error) {
	now := s.now()
	leaseUntil := now.Add(s.lease).UnixMilli()
	n, err := s.client.SafeRunScript(ctx, claimScript, []string{s.key}, token, now.UnixMilli(), leaseUntil).Int()
	if err != nil {
		return 0, false, fmt.Errorf("failed to claim %s: %w", token, err)
	}
	return leaseUntil, n == 1, nil
}

// Start polls for due tokens until ctx is cancelled
func (s *RedisScheduler) Start(ctx context.Context, h Handler) {
	go func() {
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunDue(ctx, h); err != nil {
					logger.Warn("Scheduler poll failed", zap.Error(err))
				}
			}
		}
	}()
}
