package gamenight

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheTTL is the freshness window of a cached read.
	DefaultCacheTTL = time.Minute
	// DefaultCacheSize bounds the number of cached synchronization domains.
	DefaultCacheSize = 256
)

// Entry is a cached read result.
type Entry[T any] struct {
	Key       string
	Data      T
	Timestamp time.Time
}

// Cache is a size-bounded, time-boxed memo of read results keyed by
// synchronization domain. Only a Loader writes to it.
type Cache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries *lru.Cache[string, Entry[T]]
}

// NewCache creates a cache holding at most size entries, each valid for ttl.
func NewCache[T any](size int, ttl time.Duration) *Cache[T] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, Entry[T]](size)
	return &Cache[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: entries,
	}
}

// TTL returns the freshness window.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// Get returns the entry for key if it is still fresh.
func (c *Cache[T]) Get(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if !ok || !c.fresh(e) {
		return Entry[T]{}, false
	}
	return e, true
}

func (c *Cache[T]) put(key string, data T) Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := Entry[T]{Key: key, Data: data, Timestamp: c.now()}
	c.entries.Add(key, e)
	return e
}

// Invalidate deletes the entry for key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Clear empties the cache.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len returns the number of entries, fresh or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *Cache[T]) fresh(e Entry[T]) bool {
	return c.now().Sub(e.Timestamp) < c.ttl
}
