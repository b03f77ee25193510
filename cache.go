package beankit

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ResponseCache stores successful call results with a time-to-live, optionally
// tagged with a named group for bulk invalidation. It is safe for concurrent
// use; concurrent fills of the same key are deduplicated so the underlying
// call body runs once.
//
// The cache holds results in memory only. Entries past their TTL are treated
// as absent and overwritten by the next fill; InvalidateGroup drops a whole
// group eagerly.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	groups  map[string]map[string]struct{}
	flight  singleflight.Group

	now func() time.Time
}

type cacheEntry struct {
	value   any
	group   string
	expires time.Time
}

// NewResponseCache creates an empty cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{
		entries: map[string]cacheEntry{},
		groups:  map[string]map[string]struct{}{},
		now:     time.Now,
	}
}

func (c *ResponseCache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

// fill runs fn for key, deduplicating concurrent callers, and caches a
// successful result for ttl. Errors are returned uncached.
func (c *ResponseCache) fill(key, group string, ttl time.Duration, fn func() (any, error)) (any, error) {
	v, err, _ := c.flight.Do(key, func() (any, error) {
		v, err := fn()
		if err == nil && ttl > 0 {
			c.put(key, group, v, ttl)
		}
		return v, err
	})
	return v, err
}

func (c *ResponseCache) put(key, group string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, group: group, expires: c.now().Add(ttl)}
	if group != "" {
		members, ok := c.groups[group]
		if !ok {
			members = map[string]struct{}{}
			c.groups[group] = members
		}
		members[key] = struct{}{}
	}
}

// Invalidate drops a single entry.
func (c *ResponseCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(key)
}

// InvalidateGroup drops every entry cached under the named group.
func (c *ResponseCache) InvalidateGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.groups[group] {
		c.dropLocked(key)
	}
	delete(c.groups, group)
}

func (c *ResponseCache) dropLocked(key string) {
	if e, ok := c.entries[key]; ok && e.group != "" {
		delete(c.groups[e.group], key)
	}
	delete(c.entries, key)
}

// Len returns the number of entries currently stored, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
