// Package kv provides the expiring key/value store used for one-time codes and
// verified-email markers.
package kv

import (
	"context"
	"time"
)

// Store is a string key/value store with per-key expiry. Implementations must make
// CompareAndDelete atomic: of two concurrent callers presenting the same expected value,
// at most one observes true.
type Store interface {
	// Set writes value under key, replacing any previous value, expiring after ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Del removes key. Removing an absent key is not an error.
	Del(ctx context.Context, key string) error
	// CompareAndDelete removes key only if it currently holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// Incr adds one to the counter at key and returns the new count. The first increment
	// starts a fixed window of ttl; later increments keep the original expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
