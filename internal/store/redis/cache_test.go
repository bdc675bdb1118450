package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := NewCache(context.Background(), Config{Addr: mr.Addr(), TTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestNewCacheFailsFastOnUnreachableRedis(t *testing.T) {
	_, err := NewCache(context.Background(), Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestCacheResourceRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	got, err := c.GetResource(ctx, "bot", "default", "assistant")
	require.NoError(t, err)
	assert.Nil(t, got) // miss is not an error

	require.NoError(t, c.SetResource(ctx, "bot", "default", "assistant", []byte(`{"name":"assistant"}`)))

	got, err = c.GetResource(ctx, "bot", "default", "assistant")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"assistant"}`), got)

	require.NoError(t, c.InvalidateResource(ctx, "bot", "default", "assistant"))
	got, err = c.GetResource(ctx, "bot", "default", "assistant")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheListRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, found, err := c.GetList(ctx, "bot", "default")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetList(ctx, "bot", "default", []string{"a", "b"}))

	names, found, err := c.GetList(ctx, "bot", "default")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, c.InvalidateList(ctx, "bot", "default"))
	_, found, err = c.GetList(ctx, "bot", "default")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCachePing(t *testing.T) {
	c := newTestCache(t)
	assert.NoError(t, c.Ping(context.Background()))
}
