package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache evicts the least recently used entry once maxSize is exceeded
// and drops entries that have not been touched for ttl. Every removal,
// whether by eviction, expiry or Delete, is reported to the eviction
// callback outside the lock.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
	onEvict func(key string, data T)
	now     func() time.Time
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

type evicted[T any] struct {
	key  string
	data T
}

func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// OnEvict registers fn to be called for every entry leaving the cache.
func (c *LRUCache[T]) OnEvict(fn func(key string, data T)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the entry and renews its TTL.
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()

	var zero T
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	now := c.now()
	if now.After(item.expiresAt) {
		gone := c.removeElement(elem)
		fn := c.onEvict
		c.mu.Unlock()
		c.notify(fn, gone)
		return zero, false
	}

	item.expiresAt = now.Add(c.ttl)
	c.lru.MoveToFront(elem)
	c.mu.Unlock()
	return item.data, true
}

// Set stores data under key. Replacing an existing entry does not report
// the old value as evicted.
func (c *LRUCache[T]) Set(key string, data T) {
	c.mu.Lock()

	item := &cacheItem[T]{
		key:       key,
		data:      data,
		expiresAt: c.now().Add(c.ttl),
	}

	if elem, exists := c.items[key]; exists {
		elem.Value = item
		c.lru.MoveToFront(elem)
		c.mu.Unlock()
		return
	}

	elem := c.lru.PushFront(item)
	c.items[key] = elem

	var gone []evicted[T]
	for c.lru.Len() > c.maxSize {
		gone = append(gone, c.removeElement(c.lru.Back())...)
	}
	fn := c.onEvict
	c.mu.Unlock()
	c.notify(fn, gone)
}

// Delete removes a key from the cache
func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return
	}
	gone := c.removeElement(elem)
	fn := c.onEvict
	c.mu.Unlock()
	c.notify(fn, gone)
}

func (c *LRUCache[T]) removeElement(elem *list.Element) []evicted[T] {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
	return []evicted[T]{{key: item.key, data: item.data}}
}

func (c *LRUCache[T]) notify(fn func(string, T), gone []evicted[T]) {
	if fn == nil {
		return
	}
	for _, e := range gone {
		fn(e.key, e.data)
	}
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()

	now := c.now()
	var gone []evicted[T]
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		if now.After(elem.Value.(*cacheItem[T]).expiresAt) {
			gone = append(gone, c.removeElement(elem)...)
		}
		elem = next
	}
	fn := c.onEvict
	c.mu.Unlock()

	c.notify(fn, gone)
	return len(gone)
}

// Clear removes every entry.
func (c *LRUCache[T]) Clear() {
	c.mu.Lock()
	var gone []evicted[T]
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		gone = append(gone, c.removeElement(elem)...)
		elem = next
	}
	fn := c.onEvict
	c.mu.Unlock()
	c.notify(fn, gone)
}

// Size returns the current number of items in the cache
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
