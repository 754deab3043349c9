package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient_DegradedMode(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(rc.Close)

	require.NoError(t, rc.HealthCheck(ctx))
	assert.False(t, rc.IsDegraded())

	n, err := rc.SafeIncrWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Minute, mr.TTL("counter"))

	mr.Close()
	require.Error(t, rc.HealthCheck(ctx))
	assert.True(t, rc.IsDegraded())

	assert.ErrorContains(t, rc.SafeGet(ctx, "counter").Err(), "degraded mode")
	assert.ErrorContains(t, rc.SafeHSetWithTTL(ctx, "h", map[string]interface{}{"a": 1}, time.Minute), "degraded mode")
	_, err = rc.SafeIncrWithTTL(ctx, "counter", time.Minute)
	assert.ErrorContains(t, err, "degraded mode")
	assert.Nil(t, rc.SafePSubscribe(ctx, "chat.*"))

	require.NoError(t, mr.Restart())
	require.NoError(t, rc.HealthCheck(ctx))
	assert.False(t, rc.IsDegraded())
}

func TestRedisClient_HSetWithTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(rc.Close)

	require.NoError(t, rc.SafeHSetWithTTL(ctx, "typing", map[string]interface{}{"u1": "1700000000"}, 30*time.Second))
	assert.Equal(t, "1700000000", mr.HGet("typing", "u1"))
	assert.Equal(t, 30*time.Second, mr.TTL("typing"))

	fields, err := rc.SafeHGetAll(ctx, "typing").Result()
	require.NoError(t, err)
	assert.Len(t, fields, 1)
}
