// Package cache defines the ephemeral keyed cache consumed by the identity
// core for one-time codes and rolling rate-limit counters, plus its Redis
// implementation in the redisc subpackage.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("cache: key not found")

// ErrUnavailable wraps backend failures so callers can distinguish an
// absent key from a down cache.
var ErrUnavailable = errors.New("cache: backend unavailable")

// Cache is the narrow ephemeral store interface. Values are opaque strings;
// every write carries a TTL because nothing in this cache is durable state.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key with the given prefix.
	DeletePattern(ctx context.Context, prefix string) error
	// Increment atomically increments the counter at key, setting ttl on
	// first touch, and returns the post-increment value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
