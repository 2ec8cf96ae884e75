package cache

import (
	"sync"
	"time"
)

// Cache is a minimal get/set cache with per-entry TTL.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	cap     int
}

// NewTTLCache returns an in-memory TTL cache. A non-positive cap means
// unbounded; otherwise the cache sheds expired entries first and then
// arbitrary entries to stay under cap.
func NewTTLCache[K comparable, V any](capacity int) Cache[K, V] {
	return &ttlCache[K, V]{
		entries: make(map[K]entry[V]),
		cap:     capacity,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cap > 0 && len(c.entries) >= c.cap {
		c.evictLocked(now)
	}
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops expired entries; if still at cap it drops entries until
// half the capacity is free, closest-to-expiry first is not tracked so map
// iteration order decides. Callers hold the write lock.
func (c *ttlCache[K, V]) evictLocked(now time.Time) {
	for key, item := range c.entries {
		if now.After(item.expiresAt) {
			delete(c.entries, key)
		}
	}
	if c.cap <= 0 || len(c.entries) < c.cap {
		return
	}
	target := c.cap / 2
	for key := range c.entries {
		if len(c.entries) <= target {
			break
		}
		delete(c.entries, key)
	}
}
