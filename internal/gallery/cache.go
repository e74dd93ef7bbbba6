package gallery

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
)

// VersionStore tracks the gallery generation. Every successful append bumps it
// and cached snapshots with an older generation are rebuilt.
type VersionStore interface {
	Version(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
}

// LocalVersion keeps the generation in process memory.
type LocalVersion struct {
	n atomic.Int64
}

func (l *LocalVersion) Version(context.Context) (int64, error) { return l.n.Load(), nil }

func (l *LocalVersion) Bump(context.Context) (int64, error) { return l.n.Add(1), nil }

// Cache abstracts the Redis operations used for the shared generation counter.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Incr atomically increments a counter in Redis.
func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// SharedVersion stores the generation under one Redis key so that every
// replica invalidates its snapshot when any of them enrolls a sample.
type SharedVersion struct {
	cache Cache
	key   string
}

func NewSharedVersion(cache Cache, key string) *SharedVersion {
	return &SharedVersion{cache: cache, key: key}
}

func (s *SharedVersion) Version(ctx context.Context) (int64, error) {
	raw, err := s.cache.Get(ctx, s.key)
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *SharedVersion) Bump(ctx context.Context) (int64, error) {
	return s.cache.Incr(ctx, s.key)
}
