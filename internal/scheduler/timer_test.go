package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerScheduler_Fires(t *testing.T) {
	s := NewTimerScheduler(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var fired []string
	s.Start(ctx, func(ctx context.Context, token string) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, token)
		return nil
	})

	require.NoError(t, s.ScheduleAfter(ctx, 10*time.Millisecond, "a"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestTimerScheduler_CancelPreventsFiring(t *testing.T) {
	s := NewTimerScheduler(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int32
	s.Start(ctx, func(ctx context.Context, token string) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, s.ScheduleAfter(ctx, 20*time.Millisecond, "a"))
	require.NoError(t, s.Cancel(ctx, "a"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestTimerScheduler_RescheduleFiresOnce(t *testing.T) {
	s := NewTimerScheduler(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int32
	s.Start(ctx, func(ctx context.Context, token string) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, s.ScheduleAfter(ctx, 10*time.Millisecond, "a"))
	require.NoError(t, s.ScheduleAfter(ctx, 30*time.Millisecond, "a"))

	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestTimerScheduler_RetriesFailedHandler(t *testing.T) {
	s := NewTimerScheduler(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	s.Start(ctx, func(ctx context.Context, token string) error {
		if attempts.Add(1) == 1 {
			return errors.New("store unavailable")
		}
		return nil
	})

	require.NoError(t, s.ScheduleAfter(ctx, 5*time.Millisecond, "a"))

	require.Eventually(t, func() bool { return attempts.Load() == 2 }, time.Second, 5*time.Millisecond)
}
