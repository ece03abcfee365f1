package resilience

import (
	"container/list"
	"sync"
)

// LRU is a bounded least-recently-used cache. Get promotes the accessed key;
// Put evicts the oldest entry when inserting a new key at capacity.
type LRU[K comparable, V any] struct {
	maxSize int

	mu      sync.Mutex
	order   *list.List
	entries map[K]*list.Element
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates a cache holding at most maxSize entries.
func NewLRU[K comparable, V any](maxSize int) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &LRU[K, V]{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[K]*list.Element),
	}
}

// Get returns the value for key and promotes it to most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

// Put stores value under key, evicting the least recently used entry when the
// cache is full and the key is new.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry[K, V]).key)
		}
	}
	c.entries[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
}

// Contains reports whether key is cached without promoting it.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops all entries.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[K]*list.Element)
}
