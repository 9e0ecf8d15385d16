// Package cache provides a TTL cache with single-flight fetching,
// used to shield the scraped fallback source from redundant
// concurrent fetches.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache is a keyed TTL cache. Concurrent Get calls for the same key
// while no valid entry exists collapse into a single fetch; every
// caller observes that fetch's outcome. Expired entries are retained
// so they can be served stale when a refresh fails.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group

	now func() time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// SetClock overrides the cache's clock. Intended for tests.
func (c *Cache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Cache[V]) lookup(key string, ttl time.Duration) (entry[V], bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return entry[V]{}, false, false
	}
	fresh := c.now().Sub(e.fetchedAt) < ttl
	return e, true, fresh
}

func (c *Cache[V]) store(key string, v V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Get returns the cached value for key when it is younger than ttl.
// Otherwise it runs fetch — at most once per key across concurrent
// callers — and stores the result.
//
// On fetch failure with an expired entry present, that entry is
// returned with stale=true and the fetch error attached for
// diagnostics. Without a previous entry, the zero value and the error
// are returned.
func (c *Cache[V]) Get(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, bool, error) {
	if e, ok, fresh := c.lookup(key, ttl); ok && fresh {
		return e.value, false, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A waiter queued behind a completed fetch sees the fresh
		// entry here instead of fetching again.
		if e, ok, fresh := c.lookup(key, ttl); ok && fresh {
			return e.value, nil
		}
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, val)
		return val, nil
	})
	if err != nil {
		if e, ok, _ := c.lookup(key, ttl); ok {
			return e.value, true, err
		}
		var zero V
		return zero, false, err
	}
	return v.(V), false, nil
}

// Clear removes all entries. Fetches already in flight are not
// cancelled; when they complete they populate a fresh entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len reports the number of entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
