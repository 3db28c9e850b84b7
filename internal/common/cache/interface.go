package cache

import (
	"context"
	"time"
)

// Cache defines the key-value operations the check service needs from its cache.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key. A missing key yields "" and no error.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair. If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error
}

// LockOps defines best-effort exclusive markers with expiry.
type LockOps interface {
	// TryLock sets key only if absent. Returns true when the caller now holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases a key taken with TryLock.
	Unlock(ctx context.Context, key string) error
}
