package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/database"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestRedisScheduler(t *testing.T, clock *testClock) (*RedisScheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisScheduler(database.NewRedisClient(client), "scheduler:test", time.Second, 5*time.Second, WithClock(clock.Now))
	return s, mr
}

func TestRedisScheduler_FiresOnlyWhenDue(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, _ := newTestRedisScheduler(t, clock)
	ctx := context.Background()

	require.NoError(t, s.ScheduleAfter(ctx, 30*time.Second, "call_timeout:a"))
	require.NoError(t, s.ScheduleAfter(ctx, 60*time.Second, "call_timeout:b"))

	var fired []string
	h := func(ctx context.Context, token string) error {
		fired = append(fired, token)
		return nil
	}

	clock.t = clock.t.Add(29 * time.Second)
	n, err := s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.t = clock.t.Add(2 * time.Second)
	n, err = s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"call_timeout:a"}, fired)

	// Handled tokens are gone
	n, err = s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisScheduler_CancelPreventsFiring(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, mr := newTestRedisScheduler(t, clock)
	ctx := context.Background()

	require.NoError(t, s.ScheduleAfter(ctx, time.Second, "call_timeout:a"))
	require.NoError(t, s.Cancel(ctx, "call_timeout:a"))

	clock.t = clock.t.Add(time.Minute)
	n, err := s.RunDue(ctx, func(ctx context.Context, token string) error {
		t.Fatalf("cancelled token fired: %s", token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, mr.Exists("scheduler:test"))
}

func TestRedisScheduler_RescheduleReplaces(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, _ := newTestRedisScheduler(t, clock)
	ctx := context.Background()

	require.NoError(t, s.ScheduleAfter(ctx, time.Second, "call_timeout:a"))
	require.NoError(t, s.ScheduleAfter(ctx, time.Minute, "call_timeout:a"))

	clock.t = clock.t.Add(2 * time.Second)
	n, err := s.RunDue(ctx, func(ctx context.Context, token string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisScheduler_FailedHandlerIsRetried(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, _ := newTestRedisScheduler(t, clock)
	ctx := context.Background()

	require.NoError(t, s.ScheduleAfter(ctx, time.Second, "call_timeout:a"))

	attempts := 0
	h := func(ctx context.Context, token string) error {
		attempts++
		if attempts == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}

	clock.t = clock.t.Add(2 * time.Second)
	_, err := s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	// Not due again until the retry wait elapsed
	clock.t = clock.t.Add(time.Second)
	_, err = s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	clock.t = clock.t.Add(5 * time.Second)
	_, err = s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRedisScheduler_UnavailableRedis(t *testing.T) {
	clock := &testClock{t: time.Now()}
	s, mr := newTestRedisScheduler(t, clock)
	mr.Close()

	err := s.ScheduleAfter(context.Background(), time.Second, "call_timeout:a")
	assert.Error(t, err)
}

func TestRedisScheduler_TokenStaysLeasedWhileHandling(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, mr := newTestRedisScheduler(t, clock)
	ctx := context.Background()

	require.NoError(t, s.ScheduleAfter(ctx, time.Second, "call_timeout:a"))
	clock.t = clock.t.Add(2 * time.Second)

	n, err := s.RunDue(ctx, func(ctx context.Context, token string) error {
		members, err := mr.ZMembers("scheduler:test")
		require.NoError(t, err)
		assert.Contains(t, members, token)

		score, err := mr.ZScore("scheduler:test", token)
		require.NoError(t, err)
		assert.Equal(t, float64(clock.t.Add(DefaultLease).UnixMilli()), score)

		// A second poller cannot claim a leased token
		_, claimed, err := s.claim(ctx, token)
		require.NoError(t, err)
		assert.False(t, claimed)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("scheduler:test"))
}

func TestRedisScheduler_AbandonedClaimFiresAfterLease(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, _ := newTestRedisScheduler(t, clock)
	ctx := context.Background()

	require.NoError(t, s.ScheduleAfter(ctx, time.Second, "call_timeout:a"))
	clock.t = clock.t.Add(2 * time.Second)

	// Claimed by a poller that never finished its handler
	_, claimed, err := s.claim(ctx, "call_timeout:a")
	require.NoError(t, err)
	require.True(t, claimed)

	var fired []string
	h := func(ctx context.Context, token string) error {
		fired = append(fired, token)
		return nil
	}

	clock.t = clock.t.Add(DefaultLease - time.Second)
	n, err := s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.t = clock.t.Add(2 * time.Second)
	n, err = s.RunDue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"call_timeout:a"}, fired)
}

func TestRedisScheduler_RescheduledDuringHandlerIsKept(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, mr := newTestRedisScheduler(t, clock)
	ctx := context.Background()

	require.NoError(t, s.ScheduleAfter(ctx, time.Second, "call_timeout:a"))
	clock.t = clock.t.Add(2 * time.Second)

	_, err := s.RunDue(ctx, func(ctx context.Context, token string) error {
		return s.ScheduleAfter(ctx, time.Minute, token)
	})
	require.NoError(t, err)

	members, err := mr.ZMembers("scheduler:test")
	require.NoError(t, err)
	assert.Equal(t, []string{"call_timeout:a"}, members)
}
