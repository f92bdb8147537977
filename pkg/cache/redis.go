package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTTL is a Store backed by Redis with JSON values, for deployments
// running more than one engine instance behind a load balancer: a wallet's
// aggregate result computed by one instance is visible to all of them.
type RedisTTL[V any] struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisTTL creates a Redis-backed store. Keys are namespaced under
// prefix to keep engine data apart from anything else in the database.
func NewRedisTTL[V any](rdb *redis.Client, ttl time.Duration, prefix string, logger *zap.Logger) *RedisTTL[V] {
	return &RedisTTL[V]{rdb: rdb, ttl: ttl, prefix: prefix + ":", logger: logger}
}

// Get returns the cached value if present. Redis expiry enforces the TTL.
func (c *RedisTTL[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Redis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		c.logger.Warn("Redis cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		c.rdb.Del(ctx, c.prefix+key)
		return zero, false
	}
	return value, true
}

// Set stores a value. Cache writes are best-effort; a Redis outage must
// not fail the computation whose result was being memoized.
func (c *RedisTTL[V]) Set(ctx context.Context, key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Redis cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes one key.
func (c *RedisTTL[V]) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn("Redis cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes every key under the store's prefix.
func (c *RedisTTL[V]) Clear(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		c.rdb.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("Redis cache clear failed", zap.Error(err))
	}
}
