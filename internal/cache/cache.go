// Package cache provides a bounded in-memory TTL cache with an optional
// Redis write-through backend. It backs the tag snapshot reader and the
// cover-art existence probe; search results are never cached.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"trackmeta/searchservice/internal/metrics"
)

const (
	defaultTTL        = 6 * time.Hour
	defaultMaxEntries = 400
)

// Backend is an optional external store consulted before the in-memory map
// and written through on Set.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value     []byte
	updatedAt time.Time
	expiresAt time.Time
}

// Cache is a count- and time-bounded key/value cache. Values are opaque
// bytes so the same cache serves JSON snapshots and single-byte flags.
type Cache struct {
	name       string
	ttl        time.Duration
	maxEntries int
	backend    Backend

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Cache)

// WithBackend attaches an external write-through store.
func WithBackend(b Backend) Option {
	return func(c *Cache) {
		c.backend = b
	}
}

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries overrides the default entry count bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// New builds a cache. The name labels hit/miss metrics.
func New(name string, opts ...Option) *Cache {
	c := &Cache{
		name:       name,
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, consulting the backend when the
// in-memory copy is missing or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			value := e.value
			c.mu.Unlock()
			metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
			return value, true
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.backend != nil {
		if value, found, err := c.backend.Get(ctx, key); err == nil && found {
			metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
			c.storeMemory(key, value, now)
			return value, true
		}
	}

	metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
	return nil, false
}

// Set stores the value in memory and writes it through to the backend.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	now := time.Now()
	c.storeMemory(key, value, now)
	if c.backend != nil {
		_ = c.backend.Set(ctx, key, value, c.ttl)
	}
}

// Delete drops the key everywhere.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.backend != nil {
		_ = c.backend.Delete(ctx, key)
	}
}

// Len reports the current in-memory entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) storeMemory(key string, value []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{
		value:     value,
		updatedAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.trimLocked(now)
}

// trimLocked drops expired entries first, then the oldest entries beyond the
// count bound.
func (c *Cache) trimLocked(now time.Time) {
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type pair struct {
		key   string
		entry *entry
	}
	items := make([]pair, 0, len(c.entries))
	for key, e := range c.entries {
		items = append(items, pair{key: key, entry: e})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.updatedAt.Before(items[j].entry.updatedAt)
	})
	for i := 0; i < len(items)-c.maxEntries; i++ {
		delete(c.entries, items[i].key)
	}
}
