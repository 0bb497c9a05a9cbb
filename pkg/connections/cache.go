// Package connections resolves which tenant owns an external integration account.
package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Cache stores resolved tenant ids by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryCache keeps entries in process memory.
type MemoryCache struct {
	cache *gocache.Cache
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, 10*time.Minute),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	value, found := c.cache.Get(key)
	if !found {
		return "", false, nil
	}

	return fmt.Sprintf("%v", value), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.cache.Set(key, value, ttl)

	return nil
}

// RedisCache shares entries between API replicas.
type RedisCache struct {
	client    redis.UniversalClient
	namespace string
}

func NewRedisCache(client redis.UniversalClient, namespace string) *RedisCache {
	return &RedisCache{client: client, namespace: namespace}
}

// NewRedisCacheFromURL parses a redis:// URL and connects a client.
func NewRedisCacheFromURL(url, namespace string) (*RedisCache, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return NewRedisCache(redis.NewClient(options), namespace), nil
}

func (c *RedisCache) key(key string) string {
	return c.namespace + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := c.client.Set(ctx, c.key(key), value, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
