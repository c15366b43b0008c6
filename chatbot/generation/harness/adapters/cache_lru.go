package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// LRUCache is a bounded, least-recently-used cache with optional per-entry
// expiry. The harness keeps token counts of stored turns here, so a transcript
// is tokenized once per turn rather than once per request.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used; values are *lruEntry
	index    map[string]*list.Element
	now      func() time.Time

	hits, misses uint64
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero never expires
}

// CacheStats is a snapshot of cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewLRUCache holds at most capacity entries. Non-positive capacities hold one.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: max(capacity, 1),
		order:    list.New(),
		index:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if ok && c.expired(el.Value.(*lruEntry)) {
		c.unlink(el)
		ok = false
	}
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

// Set stores value for key. A non-positive ttlSeconds never expires.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if el, ok := c.index[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.expiresAt = value, expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	c.index[key] = c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		c.unlink(c.order.Back())
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.unlink(el)
	}
	return nil
}

// Stats reports the entry count and hit ratio inputs.
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.order.Len(), Hits: c.hits, Misses: c.misses}
}

// Len reports the number of entries, expired ones included until touched.
func (c *LRUCache) Len() int {
	return c.Stats().Entries
}

func (c *LRUCache) expired(e *lruEntry) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

func (c *LRUCache) unlink(el *list.Element) {
	c.order.Remove(el)
	delete(c.index, el.Value.(*lruEntry).key)
}

var _ ports.Cache = (*LRUCache)(nil)
