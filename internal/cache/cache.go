// Package cache holds a small TTL cache of object descriptions. Ranged
// GETs need the stored object size and encryption metadata before they
// can compute which frames to fetch; caching the HEAD result saves one
// backend round trip per request.
package cache

import (
	"sync"
	"time"

	"github.com/keystone-storage/objseal/internal/storage"
)

type entry struct {
	info      *storage.ObjectInfo
	expiresAt time.Time
}

func (e *entry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// Stats holds cache statistics.
type Stats struct {
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// ObjectInfoCache is an in-memory TTL cache of object descriptions.
// Safe for concurrent use.
type ObjectInfoCache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	maxItems int
	ttl      time.Duration
	stats    Stats
}

// New creates a cache bounded to maxItems entries with the given
// default TTL.
func New(maxItems int, defaultTTL time.Duration) *ObjectInfoCache {
	return &ObjectInfoCache{
		entries:  make(map[string]*entry),
		maxItems: maxItems,
		ttl:      defaultTTL,
	}
}

// Get returns the cached description for key, if present and fresh.
func (c *ObjectInfoCache) Get(key string) (*storage.ObjectInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired() {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.info, true
}

// Set stores a description for key under the default TTL.
func (c *ObjectInfoCache) Set(key string, info *storage.ObjectInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()
	if len(c.entries) >= c.maxItems {
		c.evictOneLocked()
	}
	c.entries[key] = &entry{info: info, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops the cached description for key. Called on PUT and
// DELETE so stale sizes never drive range math.
func (c *ObjectInfoCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all entries.
func (c *ObjectInfoCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.stats = Stats{}
}

// Stats returns a snapshot of the cache statistics.
func (c *ObjectInfoCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Items = len(c.entries)
	return stats
}

func (c *ObjectInfoCache) evictExpiredLocked() {
	for key, e := range c.entries {
		if e.expired() {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

// evictOneLocked removes the entry closest to expiry.
func (c *ObjectInfoCache) evictOneLocked() {
	var oldest string
	var oldestAt time.Time
	for key, e := range c.entries {
		if oldest == "" || e.expiresAt.Before(oldestAt) {
			oldest = key
			oldestAt = e.expiresAt
		}
	}
	if oldest != "" {
		delete(c.entries, oldest)
		c.stats.Evictions++
	}
}
