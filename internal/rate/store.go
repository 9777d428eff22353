package rate

import (
	"context"
	"time"
)

// Store is the atomic counter contract shared by limiters, challenge stores and risk flags.
//
// All operations are safe for concurrent use by many writers. Implementations must make
// Incr, SetNX and Take atomic per key.
type Store interface {
	// Incr increments key and returns the new value. The TTL is applied only when the
	// increment created the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Count returns the counter value, or zero when the key is absent.
	Count(ctx context.Context, key string) (int64, error)
	// Set stores value with ttl, replacing any previous value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Take atomically reads and deletes key.
	Take(ctx context.Context, key string) (string, bool, error)
	// TTL returns the remaining lifetime of key, or zero when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error
}
