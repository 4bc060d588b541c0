// Package cache provides the in-memory, time-expiring memoization layer that
// sits in front of the document store.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	payload  V
	cachedAt time.Time
}

// Cache is a keyed TTL store. Expired entries are treated as absent and are
// removed lazily on lookup.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[V]

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a cache with the given TTL. A non-positive ttl uses DefaultTTL.
func New[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		nowFunc: time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = now
	return c
}

// TTL returns the freshness window.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the payload for key if present and still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.nowFunc().Sub(e.cachedAt) >= c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.payload, true
}

// Put overwrites any entry for key with a freshly timestamped one.
func (c *Cache[V]) Put(key string, payload V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{payload: payload, cachedAt: c.nowFunc()}
}

// Invalidate removes the entry for key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns how many were dropped.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateAll empties the cache.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
