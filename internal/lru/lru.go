// Package lru is a bounded, expiring set used to suppress repeat reports
// for the same client.
package lru

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	expiry time.Time
}

// Cache remembers keys for ttl, holding at most cap of them.
type Cache struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	ll   *list.List
	idx  map[string]*list.Element
	nowF func() time.Time
}

// New creates a cache. Non-positive capacity or ttl fall back to 1024
// entries and 10 minutes.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		cap:  capacity,
		ttl:  ttl,
		ll:   list.New(),
		idx:  map[string]*list.Element{},
		nowF: time.Now,
	}
}

// Seen returns true if key is present and not expired. Otherwise it
// records key with a fresh expiry and returns false.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowF()

	if el, ok := c.idx[key]; ok {
		en := el.Value.(*entry)
		if now.Before(en.expiry) {
			c.ll.MoveToFront(el)
			return true
		}
		c.ll.Remove(el)
		delete(c.idx, key)
	}

	el := c.ll.PushFront(&entry{key: key, expiry: now.Add(c.ttl)})
	c.idx[key] = el

	for c.ll.Len() > c.cap {
		c.removeTail()
	}
	// Expired entries collect at the tail; trim them while we hold the lock.
	for tail := c.ll.Back(); tail != nil; tail = c.ll.Back() {
		if now.Before(tail.Value.(*entry).expiry) {
			break
		}
		c.removeTail()
	}

	return false
}

// Forget drops key so the next Seen records it again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.idx[key]; ok {
		c.ll.Remove(el)
		delete(c.idx, key)
	}
}

// Len returns the number of tracked keys, including any not yet trimmed
// after expiry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) removeTail() {
	tail := c.ll.Back()
	if tail == nil {
		return
	}
	delete(c.idx, tail.Value.(*entry).key)
	c.ll.Remove(tail)
}
