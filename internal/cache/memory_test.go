package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 0))

	val, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), val)

	require.NoError(t, c.Delete(ctx, "key1"))

	val, err = c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryConfig())
	defer c.Close()

	val, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryCache_TTLExpiration(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{DefaultTTL: 20 * time.Millisecond, CleanupInterval: time.Hour})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ttl-key", []byte("value"), 0))
	time.Sleep(40 * time.Millisecond)

	val, err := c.Get(ctx, "ttl-key")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryCache_GetMulti(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryConfig())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	result, err := c.GetMulti(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, result)
}

func TestMemoryCache_SetPipeline(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryConfig())
	defer c.Close()
	ctx := context.Background()

	err := c.SetPipeline(ctx, []Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	})
	require.NoError(t, err)

	val, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), val)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryConfig())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestMemoryCache_Ping(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryConfig())
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
}
