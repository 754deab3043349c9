package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/database"
)

func newTestStore(t *testing.T) (*EphemeralStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewEphemeralStore(database.NewRedisClient(client), nil), mr
}

func TestEphemeralStore_SetGetExpire(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user_heartbeat:1", "123", time.Minute))

	value, ok, err := store.Get(ctx, "user_heartbeat:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "123", value)

	mr.FastForward(61 * time.Second)

	_, ok, err = store.Get(ctx, "user_heartbeat:1")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := store.Exists(ctx, "user_heartbeat:1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEphemeralStore_HashTTLRefreshedOnWrite(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "typing:channel:1", map[string]string{"a": "1"}, 10*time.Second))
	mr.FastForward(8 * time.Second)
	require.NoError(t, store.HSet(ctx, "typing:channel:1", map[string]string{"b": "2"}, 10*time.Second))

	assert.Equal(t, 10*time.Second, mr.TTL("typing:channel:1"))

	fields, err := store.HGetAll(ctx, "typing:channel:1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, fields)
}

func TestEphemeralStore_HDelKeepsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "typing:channel:1", map[string]string{"a": "1", "b": "2"}, 10*time.Second))
	mr.FastForward(4 * time.Second)

	require.NoError(t, store.HDel(ctx, "typing:channel:1", "a"))

	assert.Equal(t, 6*time.Second, mr.TTL("typing:channel:1"))
	fields, err := store.HGetAll(ctx, "typing:channel:1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, fields)
}

func TestEphemeralStore_MissingHashIsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	fields, err := store.HGetAll(context.Background(), "typing:channel:none")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestEphemeralStore_Delete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, store.HSet(ctx, "b", map[string]string{"x": "y"}, time.Minute))

	require.NoError(t, store.Delete(ctx, "a", "b"))

	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestEphemeralStore_UnavailableRedis(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	err := store.Set(context.Background(), "a", "1", time.Minute)
	assert.Error(t, err)
}
