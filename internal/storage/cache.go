package storage

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheCapacity is the default number of entries the read-through
// cache holds.
const DefaultCacheCapacity = 10000

// Cache is a thread-safe bounded read-through cache of hot key-value
// pairs, wrapping an LRU eviction policy with hit/miss counters.
type Cache struct {
	lru    *lru.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a Cache with the given capacity; capacity <= 0 selects
// DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c, err := lru.New(capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, already guarded above.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the cached value for key, moving it to the most-recently
// used position on a hit.
func (c *Cache) Get(key string) ([]byte, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v.([]byte), true
}

// Put inserts or replaces key's cached value, evicting the least-recently
// used entry on overflow.
func (c *Cache) Put(key string, value []byte) {
	c.lru.Add(key, value)
}

// Invalidate removes key from the cache, if present.
func (c *Cache) Invalidate(key string) {
	c.lru.Remove(key)
}

// CacheStats reports cache hit/miss counters.
type CacheStats struct {
	Hits   int64
	Misses int64
	Len    int
}

// Stats returns a snapshot of the cache's hit/miss counters and size.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Len:    c.lru.Len(),
	}
}
