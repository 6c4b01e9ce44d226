package piecestore

import (
	"container/list"
	"sync"
)

// readCache is a size-bounded (not count-bounded) LRU of recently-verified
// piece bytes, the same list+map shape as utils/cache.LRUCache generalized
// to hold values rather than only membership: ReadBlock needs the actual
// bytes back on a cache hit, not just a presence check.
type readCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	ll       *list.List
	items    map[int]*list.Element
}

type cacheEntry struct {
	piece int
	data  []byte
}

func newReadCache(capacity int64) *readCache {
	return &readCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[int]*list.Element),
	}
}

// put inserts or refreshes the cached bytes for piece, evicting
// least-recently-used entries until the cache fits within capacity.
func (c *readCache) put(piece int, data []byte) {
	if c.capacity <= 0 || int64(len(data)) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[piece]; ok {
		c.size -= int64(len(el.Value.(*cacheEntry).data))
		el.Value.(*cacheEntry).data = data
		c.size += int64(len(data))
		c.ll.MoveToBack(el)
	} else {
		el := c.ll.PushBack(&cacheEntry{piece: piece, data: data})
		c.items[piece] = el
		c.size += int64(len(data))
	}

	for c.size > c.capacity && c.ll.Len() > 0 {
		front := c.ll.Front()
		c.ll.Remove(front)
		e := front.Value.(*cacheEntry)
		delete(c.items, e.piece)
		c.size -= int64(len(e.data))
	}
}

// get returns the cached bytes for piece and true, or nil and false on a
// miss.
func (c *readCache) get(piece int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[piece]
	if !ok {
		return nil, false
	}
	c.ll.MoveToBack(el)
	return el.Value.(*cacheEntry).data, true
}

// invalidate drops piece from the cache, e.g. after a hash mismatch
// discards its in-flight blocks.
func (c *readCache) invalidate(piece int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[piece]; ok {
		c.ll.Remove(el)
		e := el.Value.(*cacheEntry)
		delete(c.items, piece)
		c.size -= int64(len(e.data))
	}
}
