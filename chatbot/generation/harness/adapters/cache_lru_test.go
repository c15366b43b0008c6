package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(2)

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 0))

	// Touch a so b becomes the eviction candidate
	_, ok := cache.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, cache.Set(ctx, "c", []byte("3"), 0))

	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := cache.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, cache.Len())
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(4)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 10))

	_, ok := cache.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestLRUCache_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(4)

	require.NoError(t, cache.Set(ctx, "k", []byte("old"), 0))
	require.NoError(t, cache.Set(ctx, "k", []byte("new"), 0))

	v, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)

	require.NoError(t, cache.Delete(ctx, "k"))
	require.NoError(t, cache.Delete(ctx, "missing"))
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLRUCache_Stats(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(0)

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, cache.Set(ctx, "k2", []byte("v2"), 0))

	_, ok = cache.Get(ctx, "k2")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok, "capacity is clamped to one entry")

	assert.Equal(t, CacheStats{Entries: 1, Hits: 1, Misses: 2}, cache.Stats())
}
