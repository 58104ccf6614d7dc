package ob

import (
	"container/list"
	"sync"
	"time"
)

type cacheNode struct {
	key   uint64
	wrote time.Time
}

// CacheMap is a bounded map with least-recently-used eviction and optional
// time-based expiry. Storage and reference lifetimes are delegated to an
// inner Map; the cache itself only keeps the recency order and the write
// timestamps. Expiry is anchored at the last write of an entry: reads
// promote recency but never extend the TTL. Expired entries are dropped
// lazily when touched; Sweep exists for hosts that schedule an explicit
// pass.
type CacheMap[T any] struct {
	mu       sync.Mutex
	inner    *Map[T]
	order    *list.List // front is most recently used
	index    map[uint64]*list.Element
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCacheMap returns a cache bounded to capacity entries. A ttl of zero
// disables expiry. Capacity is clamped to at least one entry.
func NewCacheMap[T any](capacity int, ttl time.Duration) *CacheMap[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &CacheMap[T]{
		inner:    NewMap[T](capacity),
		order:    list.New(),
		index:    make(map[uint64]*list.Element, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c *CacheMap[T]) expired(n *cacheNode) bool {
	return c.ttl > 0 && c.now().Sub(n.wrote) > c.ttl
}

// dropLocked unlinks key from the recency structures. Caller holds the lock
// and removes the storage entry after unlocking, so the stored reference is
// never released under the cache lock.
func (c *CacheMap[T]) dropLocked(el *list.Element) uint64 {
	n := el.Value.(*cacheNode)
	c.order.Remove(el)
	delete(c.index, n.key)
	return n.key
}

// Get returns a borrowed view of the value under key, promoting the entry to
// most recently used. An expired entry is evicted and reported as a miss.
func (c *CacheMap[T]) Get(key uint64) (*T, bool) {
	c.mu.Lock()
	el, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if c.expired(el.Value.(*cacheNode)) {
		c.dropLocked(el)
		c.mu.Unlock()
		c.inner.Remove(key)
		return nil, false
	}
	c.order.MoveToFront(el)
	v, ok := c.inner.Lookup(key)
	c.mu.Unlock()
	return v, ok
}

// GetRef is Get returning a newly counted reference owned by the caller.
func (c *CacheMap[T]) GetRef(key uint64) (*Object[T], bool) {
	c.mu.Lock()
	el, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if c.expired(el.Value.(*cacheNode)) {
		c.dropLocked(el)
		c.mu.Unlock()
		c.inner.Remove(key)
		return nil, false
	}
	c.order.MoveToFront(el)
	o, ok := c.inner.Acquire(key)
	c.mu.Unlock()
	return o, ok
}

// Put inserts or replaces the entry under key as most recently used,
// re-anchoring its TTL. At capacity the least-recently-used entry is evicted
// first and its reference released. A dead handle is rejected with
// ErrInvalidHandle before anything is evicted.
func (c *CacheMap[T]) Put(key uint64, obj *Object[T]) error {
	if !obj.alive() {
		return ErrInvalidHandle
	}
	var evicted uint64
	hasVictim := false
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		n := el.Value.(*cacheNode)
		n.wrote = c.now()
		c.order.MoveToFront(el)
	} else {
		if c.order.Len() >= c.capacity {
			evicted = c.dropLocked(c.order.Back())
			hasVictim = true
		}
		c.index[key] = c.order.PushFront(&cacheNode{key: key, wrote: c.now()})
	}
	c.mu.Unlock()
	if hasVictim {
		c.inner.Remove(evicted)
	}
	if _, err := c.inner.Insert(key, obj); err != nil {
		c.mu.Lock()
		if el, ok := c.index[key]; ok {
			c.dropLocked(el)
		}
		c.mu.Unlock()
		c.inner.Remove(key)
		return err
	}
	return nil
}

// Evict drops the entry under key, releasing its reference. Used for manual
// invalidation when upstream data is known stale.
func (c *CacheMap[T]) Evict(key uint64) bool {
	c.mu.Lock()
	el, ok := c.index[key]
	if ok {
		c.dropLocked(el)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.inner.Remove(key)
}

// Sweep drops every expired entry now, returning how many were evicted.
func (c *CacheMap[T]) Sweep() int {
	var victims []uint64
	c.mu.Lock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*cacheNode)) {
			victims = append(victims, c.dropLocked(el))
		}
		el = prev
	}
	c.mu.Unlock()
	for _, key := range victims {
		c.inner.Remove(key)
	}
	return len(victims)
}

func (c *CacheMap[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Clear drops every entry and releases every held reference.
func (c *CacheMap[T]) Clear() {
	c.mu.Lock()
	c.order.Init()
	c.index = make(map[uint64]*list.Element, c.capacity)
	c.mu.Unlock()
	c.inner.Clear()
}
