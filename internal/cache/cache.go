package cache

import (
	"context"
	"time"
)

// Cache is the fast expiring backend behind the detector state store.
// Values are integer counters and dedupe markers; a missing or expired
// key is reported as absent, never as zero.
type Cache interface {
	// MGet returns the values present for the given keys. Keys that are
	// missing or expired are simply absent from the result.
	MGet(ctx context.Context, keys ...string) (map[string]int64, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
