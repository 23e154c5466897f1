package cache

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

func TestCache_LocalOnly_SetGetDel(t *testing.T) {
	c := New(nil, 10, time.Minute, time.Hour)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "embed", "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "embed", "doc-1", []byte("vector-bytes"), 0))
	v, ok, err := c.Get(ctx, "embed", "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("vector-bytes"), v)

	require.NoError(t, c.Del(ctx, "embed", "doc-1"))
	_, ok, err = c.Get(ctx, "embed", "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_LocalTier_RespectsFIFOCapacity(t *testing.T) {
	c := New(nil, 2, time.Minute, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ns", "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "ns", "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "ns", "c", []byte("3"), 0))

	_, ok, _ := c.Get(ctx, "ns", "a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok, _ = c.Get(ctx, "ns", "c")
	assert.True(t, ok)
}

func TestCache_LocalTier_ExpiresOnTTL(t *testing.T) {
	c := New(nil, 10, time.Millisecond, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ns", "k", []byte("v"), 0))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_FallsThroughToRedisOnLocalMiss(t *testing.T) {
	rdb := newTestRedis(t)
	c := New(rdb, 10, time.Minute, time.Hour)
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, "embed:doc-2", []byte("from-redis"), time.Hour).Err())

	v, ok, err := c.Get(ctx, "embed", "doc-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-redis"), v)

	// second read should be served from the local tier without touching redis.
	require.NoError(t, rdb.Del(ctx, "embed:doc-2").Err())
	v, ok, err = c.Get(ctx, "embed", "doc-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-redis"), v)
}

func TestCache_SetWritesThroughToRedis(t *testing.T) {
	rdb := newTestRedis(t)
	c := New(rdb, 10, time.Minute, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "embed", "doc-3", []byte("payload"), 30))

	raw, err := rdb.Get(ctx, "embed:doc-3").Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), raw)
	assert.InDelta(t, 30*time.Second.Seconds(), rdb.TTL(ctx, "embed:doc-3").Val().Seconds(), 1)
}

func TestCache_DelRemovesFromBothTiers(t *testing.T) {
	rdb := newTestRedis(t)
	c := New(rdb, 10, time.Minute, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "embed", "doc-4", []byte("x"), 0))
	require.NoError(t, c.Del(ctx, "embed", "doc-4"))

	_, ok, err := c.Get(ctx, "embed", "doc-4")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := rdb.Exists(ctx, "embed:doc-4").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
