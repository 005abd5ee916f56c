package cache

import (
	"context"
	"time"
)

// NoopCache discards writes and misses every read. It stands in for a
// real backend when caching is disabled.
type NoopCache struct{}

// NewNoopCache returns a cache that stores nothing.
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (*NoopCache) Get(context.Context, string, interface{}) error {
	return ErrNotFound
}

func (*NoopCache) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (*NoopCache) Delete(context.Context, string) error {
	return nil
}

func (*NoopCache) DeletePrefix(context.Context, string) (int, error) {
	return 0, nil
}

func (*NoopCache) Close() error {
	return nil
}
