// Package cache maintains the Redis view of per-store inventory and
// discounts, kept consistent with Postgres after each sync.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout. No TTLs anywhere: entries are overwritten on each sync and
// readers tolerate staleness, never partial writes.
const (
	KeyLocations = "locations:all"
)

func KeyInventory(locationID string) string { return "inventory:" + locationID }
func KeyDiscounts(locationID string) string { return "discounts:" + locationID }
func KeySyncStamp(locationID string) string { return "sync:" + locationID + ":timestamp" }

// Cache is the narrow Redis surface the service needs. go-redis backs it
// in production; tests use an in-memory fake.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// MSet writes all pairs in one round trip; per-location views must
	// land atomically, never partially.
	MSet(ctx context.Context, pairs map[string]string) error
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ErrMiss is returned by Get for absent keys.
var ErrMiss = redis.Nil

type redisCache struct {
	rdb *redis.Client
}

// NewRedis wraps a go-redis client as a Cache.
func NewRedis(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *redisCache) MSet(ctx context.Context, pairs map[string]string) error {
	args := make([]interface{}, 0, len(pairs)*2)
	for k, v := range pairs {
		args = append(args, k, v)
	}
	return c.rdb.MSet(ctx, args...).Err()
}

func (c *redisCache) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

func (c *redisCache) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *redisCache) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return c.rdb.HSet(ctx, key, args...).Err()
}

func (c *redisCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// Millis formats a wall-clock instant the way sync:{id}:timestamp stores
// it: milliseconds since epoch, decimal string.
func Millis(t time.Time) int64 { return t.UnixMilli() }
