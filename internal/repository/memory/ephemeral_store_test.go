package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/pkg/cache"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestEphemeralStore_ValueExpires(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewEphemeralStore(cache.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(61 * time.Second)

	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEphemeralStore_HDelKeepsTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewEphemeralStore(cache.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}, 10*time.Second))
	clock.Advance(6 * time.Second)
	require.NoError(t, store.HDel(ctx, "h", "a"))

	fields, err := store.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, fields)

	// The delete must not have extended the original 10s lifetime
	clock.Advance(5 * time.Second)
	fields, err = store.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestEphemeralStore_HSetRefreshesTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewEphemeralStore(cache.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "h", map[string]string{"a": "1"}, 10*time.Second))
	clock.Advance(8 * time.Second)
	require.NoError(t, store.HSet(ctx, "h", map[string]string{"b": "2"}, 10*time.Second))
	clock.Advance(8 * time.Second)

	fields, err := store.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, fields)
}

func TestEphemeralStore_HDelLastFieldRemovesKey(t *testing.T) {
	store := NewEphemeralStore()
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "h", map[string]string{"a": "1"}, time.Minute))
	require.NoError(t, store.HDel(ctx, "h", "a"))

	ok, err := store.Exists(ctx, "h")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEphemeralStore_HGetAllReturnsCopy(t *testing.T) {
	store := NewEphemeralStore()
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "h", map[string]string{"a": "1"}, time.Minute))
	fields, err := store.HGetAll(ctx, "h")
	require.NoError(t, err)
	fields["a"] = "changed"

	again, err := store.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "1", again["a"])
}

func TestEphemeralStore_CleanupDropsExpiredKeys(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewEphemeralStore(cache.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", "v", time.Second))
	require.NoError(t, store.Set(ctx, "long", "v", time.Hour))
	clock.Advance(2 * time.Second)
	require.Equal(t, 2, store.cache.Len())

	stop := store.StartCleanup(5 * time.Millisecond)
	defer stop()

	assert.Eventually(t, func() bool { return store.cache.Len() == 1 }, time.Second, 5*time.Millisecond)
	ok, err := store.Exists(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}
