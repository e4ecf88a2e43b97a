// Package kv defines the storage abstraction used by stampede and its
// sibling packages (lock, idgen).
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// metadata, no re-encoding). The conditional operations (SetNX,
// CompareAndDelete) and Incr must be atomic with respect to all other
// operations on the same key, including across processes for shared backends.
package kv

import (
	"context"
	"time"
)

// Store is a minimal byte store with TTLs and atomic conditional operations.
// Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if the key is absent, with the given TTL.
	// Returns whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Del removes a key (best-effort; deleting a missing key is not an error).
	Del(ctx context.Context, key string) error

	// Incr atomically increments the integer stored at key, creating it at 0
	// first if absent, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// CompareAndDelete deletes the key only if its current value equals
	// expect. Returns whether the delete happened. Absent keys and value
	// mismatches return (false, nil).
	CompareAndDelete(ctx context.Context, key string, expect []byte) (bool, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
