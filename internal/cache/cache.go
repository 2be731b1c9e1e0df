// Package cache provides a small TTL cache used to skip repeated expensive lookups.
//
// Entries are evicted lazily: a Get past the expiry deletes the entry and reports
// a miss. Nothing sweeps in the background.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is a cached value with its absolute expiry.
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// Stats tracks cache efficiency.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is a thread-safe key/value store with per-entry expiry.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]
	stats   Stats
	now     func() time.Time
}

// New creates an empty cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]Entry[T]),
		now:     time.Now,
	}
}

// NewWithClock creates a cache reading time from now. Used by tests.
func NewWithClock[T any](now func() time.Time) *Cache[T] {
	c := New[T]()
	c.now = now
	return c
}

// Set stores value under key until now+ttl, overwriting any existing entry.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry[T]{Value: value, ExpiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Get returns the value if present and unexpired. An expired entry is removed.
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.count(func(s *Stats) { s.Misses++ })
		return zero, false
	}

	if !c.now().Before(entry.ExpiresAt) {
		c.mu.Lock()
		// Another goroutine may have refreshed the key between the locks.
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.ExpiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
		c.stats.Misses++
		c.mu.Unlock()
		return zero, false
	}

	c.count(func(s *Stats) { s.Hits++ })
	return entry.Value, true
}

// Delete removes key.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Size returns the number of stored entries, expired or not.
func (c *Cache[T]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the stored keys in sorted order.
func (c *Cache[T]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Stats returns a copy of the hit/miss counters.
func (c *Cache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Cache[T]) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Cached is a read-through wrapper. On a hit producer is not called. On a miss
// the producer result is stored and returned; a producer error is returned and
// nothing is cached. Concurrent misses on one key may each call producer.
func Cached[T any](ctx context.Context, c *Cache[T], key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := producer(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}
