package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S01-Issuer/claims-engine/pkg/cache"
)

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := cache.NewTTL[int](time.Minute)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "a", 42)
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 42, got)
	assert.True(t, c.IsValid("a"))

	c.Set(ctx, "a", 43)
	got, _ = c.Get(ctx, "a")
	assert.Equal(t, 43, got)

	c.Delete(ctx, "a")
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewTTL[string](20 * time.Millisecond)

	c.Set(ctx, "k", "v")
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.IsValid("k"))
	// Expired entries linger until swept.
	assert.Equal(t, 1, c.Len())
}

func TestZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := cache.NewTTL[string](0)

	c.Set(ctx, "k", "v")
	time.Sleep(30 * time.Millisecond)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
	assert.Zero(t, c.Sweep())
}

func TestSweepDropsOnlyExpired(t *testing.T) {
	ctx := context.Background()
	c := cache.NewTTL[int](30 * time.Millisecond)

	c.Set(ctx, "old", 1)
	time.Sleep(50 * time.Millisecond)
	c.Set(ctx, "fresh", 2)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	got, ok := c.Get(ctx, "fresh")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := cache.NewTTL[int](time.Minute)

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Clear(ctx)

	assert.Zero(t, c.Len())
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := cache.NewTTL[int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				c.Set(ctx, key, j)
				c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Len())
}
