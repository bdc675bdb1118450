package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestDistributedLimiterAllowsUpToLimit(t *testing.T) {
	client := newTestRedis(t)
	limiter := NewDistributedLimiter(client, 2, time.Minute)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributedLimiterTracksKeysIndependently(t *testing.T) {
	client := newTestRedis(t)
	limiter := NewDistributedLimiter(client, 1, time.Minute)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLimiterFailsOpenOnRedisError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // nothing listening
	limiter := NewDistributedLimiter(client, 1, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ok, err := limiter.Allow(ctx, "whatever")
	assert.Error(t, err)
	assert.True(t, ok)
}
