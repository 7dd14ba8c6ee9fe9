// Package cache implements the decoded-tile LRU of spec §4.8: keyed by
// NodeId, bounded by total resident bytes, with pinned entries immune to
// eviction until unpinned. Entries are pinned only by explicit Pin calls;
// nothing pins an entry merely because a fetched value is still in use.
package cache

import (
	"container/list"
	"sync"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

type entry struct {
	id    pc.NodeId
	value interface{}
	bytes int64
	pins  int
	elem  *list.Element
}

// LRU is a byte-budgeted, pin-aware least-recently-used cache.
type LRU struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	order    *list.List // front = most recently used
	index    map[pc.NodeId]*entry
}

// New returns an LRU bounded by maxBytes of resident value size.
func New(maxBytes int64) *LRU {
	return &LRU{
		maxBytes: maxBytes,
		order:    list.New(),
		index:    make(map[pc.NodeId]*entry),
	}
}

// Get returns the cached value for id, promoting it to most-recently-used.
func (c *LRU) Get(id pc.NodeId) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Put inserts or replaces id's cached value, evicting least-recently-used,
// unpinned entries as needed to stay within the byte budget.
func (c *LRU) Put(id pc.NodeId, value interface{}, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.index[id]; ok {
		c.curBytes -= old.bytes
		c.order.Remove(old.elem)
		delete(c.index, id)
	}
	e := &entry{id: id, value: value, bytes: bytes}
	e.elem = c.order.PushFront(e)
	c.index[id] = e
	c.curBytes += bytes
	c.evict()
}

// Pin marks id's entry as in use, making it immune to eviction until a
// matching Unpin. It does nothing if id is not cached.
func (c *LRU) Pin(id pc.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.index[id]; ok {
		e.pins++
	}
}

// Unpin releases one pin taken by Pin.
func (c *LRU) Unpin(id pc.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[id]
	if !ok {
		return
	}
	if e.pins > 0 {
		e.pins--
	}
	c.evict()
}

// evict drops least-recently-used unpinned entries until curBytes fits
// within maxBytes. Must be called with mu held.
func (c *LRU) evict() {
	for c.curBytes > c.maxBytes {
		victim := c.evictionCandidate()
		if victim == nil {
			return // everything left resident is pinned
		}
		c.order.Remove(victim.elem)
		delete(c.index, victim.id)
		c.curBytes -= victim.bytes
	}
}

// evictionCandidate walks from the back (least-recently-used) looking for
// the first unpinned entry.
func (c *LRU) evictionCandidate() *entry {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.pins == 0 {
			return e
		}
	}
	return nil
}

// Len returns the number of resident entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
