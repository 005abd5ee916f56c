package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryItem is a cached value with its expiry deadline.
type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// MemoryCache is an in-process cache backed by an LRU store with
// per-entry TTLs. Expired entries are dropped lazily on read, so the
// store may briefly hold stale entries up to its size bound.
type MemoryCache struct {
	store *lru.Cache[string, memoryItem]
	mu    sync.Mutex
	now   func() time.Time
}

// NewMemoryCache creates an in-memory cache holding at most maxItems
// entries. Older entries are evicted when the bound is reached.
func NewMemoryCache(maxItems int) (*MemoryCache, error) {
	if maxItems <= 0 {
		maxItems = 2000
	}
	store, err := lru.New[string, memoryItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryCache{
		store: store,
		now:   time.Now,
	}, nil
}

// Get retrieves a value and unmarshals it into dest. Returns
// ErrNotFound for missing or expired keys.
func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	item, ok := c.store.Get(key)
	if ok && item.expired(c.now()) {
		c.store.Remove(key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(item.data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// Set stores a value under key for ttl. A non-positive ttl stores the
// entry without an expiry deadline.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	item := memoryItem{data: data}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.store.Add(key, item)
	c.mu.Unlock()
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	c.store.Remove(key)
	c.mu.Unlock()
	return nil
}

// DeletePrefix removes every key starting with prefix and returns the
// number of entries removed.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range c.store.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.store.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of entries currently held, including entries
// whose TTL has elapsed but which have not been read since.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// Close releases the store.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.store.Purge()
	c.mu.Unlock()
	return nil
}
