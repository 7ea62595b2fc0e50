package cache

import (
	"container/list"
	"sync"
)

// LRUOption is a functional option for building an LRU
type LRUOption[K comparable, V any] func(*LRU[K, V])

// lruEntry stored in list.Element
type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a map with an optional capacity that evicts the least recently used key.
// A capacity of 0 means unbounded, nothing is ever evicted.
type LRU[K comparable, V any] struct {
	capacity int
	mu       sync.RWMutex
	ll       *list.List
	items    map[K]*list.Element
}

// WithCapacity sets the capacity of the LRU. capacity must be >= 0
func WithCapacity[K comparable, V any](capacity int) LRUOption[K, V] {
	return func(c *LRU[K, V]) {
		if capacity >= 0 {
			c.capacity = capacity
		} else {
			panic("capacity must be >= 0")
		}
	}
}

// NewLRU creates an unbounded LRU unless WithCapacity says otherwise.
func NewLRU[K comparable, V any](opts ...LRUOption[K, V]) *LRU[K, V] {
	c := &LRU[K, V]{
		ll:    list.New(),
		items: make(map[K]*list.Element),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Len returns number of items.
// Uses read lock since it only reads the map length
func (c *LRU[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns value if present
// Marks the element as most-recent
func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(element)
	return element.Value.(*lruEntry[K, V]).value, true
}

// Peek returns the value without touching the recency order.
func (c *LRU[K, V]) Peek(key K) (value V, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	element, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return element.Value.(*lruEntry[K, V]).value, true
}

// Set inserts or updates key and returns the key evicted to make room, if any.
func (c *LRU[K, V]) Set(key K, value V) (evicted K, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// update if it's existing
	if element, found := c.items[key]; found {
		element.Value.(*lruEntry[K, V]).value = value
		c.ll.MoveToFront(element)
		return evicted, false
	}

	// if its full, evict to create space
	if c.capacity > 0 && len(c.items) >= c.capacity {
		tail := c.ll.Back()
		entry := tail.Value.(*lruEntry[K, V])
		c.ll.Remove(tail)
		delete(c.items, entry.key)
		evicted, ok = entry.key, true
	}

	element := c.ll.PushFront(&lruEntry[K, V]{key: key, value: value})
	c.items[key] = element
	return evicted, ok
}

// Delete removes the key from the LRU (both the linked list node and the items map).
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	element, ok := c.items[key]
	if !ok {
		return
	}
	c.ll.Remove(element)
	delete(c.items, key)
}

// Keys returns the keys from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]K, 0, len(c.items))
	for e := c.ll.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(*lruEntry[K, V]).key)
	}
	return out
}
