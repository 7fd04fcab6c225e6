// Package kvstore is a small keyed store with per-key expiry.
//
// It holds the engine's short-lived shared state (rate-limit observations,
// the Discord channel→guild cache, pending OAuth state values) outside of
// process globals, so a Redis-backed instance can be shared between replicas
// and the in-memory one can be injected in tests.
package kvstore

import (
	"context"
	"time"
)

// Store is a string-keyed, string-valued store with TTL.
// A ttl <= 0 means the key never expires.
type Store interface {
	// Get returns the value and true, or "" and false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take atomically reads and deletes a key (single-use values).
	Take(ctx context.Context, key string) (string, bool, error)
}
