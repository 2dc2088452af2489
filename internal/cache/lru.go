package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruEntry struct {
	key       string
	value     []byte
	size      int
	expiresAt time.Time
}

// LRU is an in-memory cache bounded by entry count and total byte size.
// Expiry is checked on access; a hit refreshes recency.
type LRU struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int
	curBytes   int
	order      *list.List
	items      map[string]*list.Element
	now        func() time.Time
}

// NewLRU creates a cache holding at most maxEntries entries and maxBytes
// total payload bytes.
func NewLRU(maxEntries, maxBytes int) *LRU {
	return &LRU{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns the cached value, or false on miss or expiry.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

// Set stores a value with the given TTL, evicting least-recently-used
// entries to stay within bounds.
func (c *LRU) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	entry := &lruEntry{
		key:       key,
		value:     value,
		size:      len(value),
		expiresAt: c.now().Add(ttl),
	}
	c.items[key] = c.order.PushFront(entry)
	c.curBytes += entry.size

	for (c.maxEntries > 0 && c.order.Len() > c.maxEntries) ||
		(c.maxBytes > 0 && c.curBytes > c.maxBytes) {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

// Delete removes a key if present.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the current entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops all entries.
func (c *LRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.curBytes = 0
}

func (c *LRU) removeElement(el *list.Element) {
	entry := el.Value.(*lruEntry)
	c.order.Remove(el)
	delete(c.items, entry.key)
	c.curBytes -= entry.size
}
