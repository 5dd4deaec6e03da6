package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache backs deployments without redis and the engine's tests.
type MemoryCache struct {
	store *gocache.Cache
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (c *MemoryCache) MGet(ctx context.Context, keys ...string) (map[string]int64, error) {
	results := make(map[string]int64, len(keys))
	for _, key := range keys {
		if value, found := c.store.Get(key); found {
			if parsed, ok := value.(int64); ok {
				results[key] = parsed
			}
		}
	}
	return results, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	c.store.Set(key, value, ttl)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}
