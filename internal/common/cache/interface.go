package cache

import (
	"context"
	"time"
)

// Cache defines the key-value operations used by jobe.
type Cache interface {
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// LockOps defines token-owned lease operations.
// Only the holder of token may release or extend a lease.
type LockOps interface {
	// TryLock sets key to token if absent. Returns true if the lease was taken.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock deletes key if it still holds token. Returns false if the lease
	// had already expired or belongs to someone else.
	Unlock(ctx context.Context, key, token string) (bool, error)

	// ExtendLock resets the TTL of key if it still holds token.
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Exists returns how many of keys are currently held.
	Exists(ctx context.Context, keys ...string) (int64, error)
}
