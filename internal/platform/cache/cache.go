// Package cache provides a small JSON read-model cache over Redis.
// Cached values are advisory display data; balances and totals are
// always recomputed from source rows.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss indicates the key was absent.
var ErrMiss = errors.New("cache: miss")

// Cache stores JSON payloads with a fixed TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps a redis client.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get unmarshals the cached payload into target.
func (c *Cache) Get(ctx context.Context, key string, target any) error {
	if c == nil || c.client == nil {
		return ErrMiss
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// Set stores value under key for the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate removes keys after a write.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
