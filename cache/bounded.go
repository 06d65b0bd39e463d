package cache

import (
	"container/list"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BOUNDED CACHE - Concurrent TTL cache with entry and memory ceilings
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reads take the read lock, writes take a short write lock, eviction runs
// under the write lock. On breach of either ceiling the oldest-accessed
// entries are evicted.
//
// ═══════════════════════════════════════════════════════════════════════════════

type entry[V any] struct {
	key       string
	value     V
	size      int64
	expiresAt time.Time
	elem      *list.Element
}

// BoundedCache is a concurrent cache with TTL, max entry count and a soft
// memory ceiling (approximate, caller-supplied per-entry cost).
type BoundedCache[V any] struct {
	mu sync.RWMutex

	ttl        time.Duration
	maxEntries int
	maxBytes   int64 // 0 = no memory ceiling

	entries map[string]*entry[V]
	access  *list.List // front = most recently accessed
	bytes   int64

	evictions int64
}

// New creates a bounded cache. ttl <= 0 means entries never expire.
func New[V any](maxEntries int, ttl time.Duration) *BoundedCache[V] {
	return &BoundedCache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
		access:     list.New(),
	}
}

// WithMemoryCeiling sets the soft memory ceiling in bytes.
func (c *BoundedCache[V]) WithMemoryCeiling(maxBytes int64) *BoundedCache[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBytes = maxBytes
	return c
}

// Get returns the cached value if present and not expired.
func (c *BoundedCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		return zero, false
	}

	// Promote under the write lock; cheap and keeps access order honest.
	c.mu.Lock()
	if cur, still := c.entries[key]; still && cur == e {
		c.access.MoveToFront(e.elem)
	}
	c.mu.Unlock()

	return e.value, true
}

// Set stores a value with a default per-entry cost of 1 byte-unit.
func (c *BoundedCache[V]) Set(key string, value V) {
	c.SetSized(key, value, 1)
}

// SetSized stores a value with an explicit approximate cost.
func (c *BoundedCache[V]) SetSized(key string, value V, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.bytes -= old.size
		c.access.Remove(old.elem)
		delete(c.entries, key)
	}

	e := &entry[V]{
		key:       key,
		value:     value,
		size:      size,
		expiresAt: time.Now().Add(c.ttl),
	}
	e.elem = c.access.PushFront(e)
	c.entries[key] = e
	c.bytes += size

	c.evictLocked()
}

// Delete removes a key.
func (c *BoundedCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.bytes -= e.size
		c.access.Remove(e.elem)
		delete(c.entries, key)
	}
}

// Len returns the current entry count.
func (c *BoundedCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Evictions returns how many entries were evicted by policy.
func (c *BoundedCache[V]) Evictions() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evictions
}

// Cleanup drops all expired entries. Called by the maintenance task.
func (c *BoundedCache[V]) Cleanup() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.bytes -= e.size
			c.access.Remove(e.elem)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// evictLocked enforces both ceilings, oldest-accessed first.
func (c *BoundedCache[V]) evictLocked() {
	for (c.maxEntries > 0 && len(c.entries) > c.maxEntries) ||
		(c.maxBytes > 0 && c.bytes > c.maxBytes) {
		oldest := c.access.Back()
		if oldest == nil {
			return
		}
		e := oldest.Value.(*entry[V])
		c.bytes -= e.size
		c.access.Remove(oldest)
		delete(c.entries, e.key)
		c.evictions++
	}
}
