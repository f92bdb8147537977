// Package cache provides bounded-lifetime memoization for expensive claim
// computations: parsed ledgers keyed by content link, aggregate results
// keyed by wallet address.
package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Store is the surface the claims service caches through. Implementations
// must be safe for concurrent use.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is an in-process store holding one entry per key for a bounded
// duration. A zero ttl means entries never expire, which fits
// content-addressed values: immutable once validated, so only memory
// bounds them.
type TTL[V any] struct {
	ttl     time.Duration
	entries *xsync.Map[string, entry[V]]
}

// NewTTL creates a TTL store.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{ttl: ttl, entries: xsync.NewMap[string, entry[V]]()}
}

// Get returns the cached value if present and still valid.
func (c *TTL[V]) Get(_ context.Context, key string) (V, bool) {
	e, ok := c.entries.Load(key)
	if !ok || !c.fresh(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value, replacing any previous entry for the key.
func (c *TTL[V]) Set(_ context.Context, key string, value V) {
	c.entries.Store(key, entry[V]{value: value, storedAt: time.Now()})
}

// IsValid reports whether the key holds an unexpired entry.
func (c *TTL[V]) IsValid(key string) bool {
	e, ok := c.entries.Load(key)
	return ok && c.fresh(e)
}

// Delete removes one key.
func (c *TTL[V]) Delete(_ context.Context, key string) {
	c.entries.Delete(key)
}

// Clear removes every entry.
func (c *TTL[V]) Clear(_ context.Context) {
	c.entries.Clear()
}

// Sweep drops expired entries and returns how many were removed. Get
// already ignores stale entries; sweeping just returns their memory.
func (c *TTL[V]) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	c.entries.Range(func(key string, e entry[V]) bool {
		if !c.fresh(e) {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of stored entries, expired included.
func (c *TTL[V]) Len() int {
	return c.entries.Size()
}

func (c *TTL[V]) fresh(e entry[V]) bool {
	return c.ttl <= 0 || time.Since(e.storedAt) < c.ttl
}
