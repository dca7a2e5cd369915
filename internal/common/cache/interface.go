// Package cache holds the key-value store used for live status and problem data.
package cache

import (
	"context"
	"time"
)

// Cache is the subset of key-value operations the judge relies on.
// Redis is the production implementation; miniredis backs the tests.
type Cache interface {
	// Get returns the value for key, or "" with a nil error when the key is missing.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Del(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}
