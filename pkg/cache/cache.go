// Package cache provides the TTL result cache shared by retrieval and
// embedding lookups, with in-memory and Redis backends.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned on cache miss.
var ErrNotFound = errors.New("cache: key not found")

// Cache defines the caching operations used by the services. Values are
// JSON-encoded so both backends behave identically.
type Cache interface {
	// Get retrieves a value into dest; ErrNotFound on miss or expiry.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete removes a single key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and reports
	// how many were dropped.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}
