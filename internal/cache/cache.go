// Package cache implements the bounded LRU block cache that sits in
// front of the device table: reads and writes alike land here first,
// trading a little memory for skipping a round trip to the controller
// on a repeat access.
package cache

import (
	"container/list"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached block by its device/sector/block coordinate.
type Key struct {
	Device int
	Sector int
	Block  int
}

func (k Key) hash() uint64 {
	var b [24]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(k.Device))
	binary.BigEndian.PutUint64(b[8:16], uint64(k.Sector))
	binary.BigEndian.PutUint64(b[16:24], uint64(k.Block))
	return xxhash.Sum64(b[:])
}

type entry struct {
	key     Key
	data    []byte
	lastUse uint64
}

// Cache is a fixed-capacity LRU keyed by (device, sector, block). A Put
// on a key already present restamps it and moves it to the front without
// counting as either a hit or a miss — only Get outcomes are scored.
// Eviction triggers when there is no empty slot left, and always evicts
// the entry with the smallest last-use stamp, which is always the tail
// of the LRU list because every Get/Put moves its entry to the front.
type Cache struct {
	capacity int
	ll       *list.List // front = most recently used
	index    map[uint64]*list.Element

	nextUse uint64
	hits    uint64
	misses  uint64
}

// New builds a cache holding up to capacity blocks. capacity <= 0 is
// normalized to 1 so the cache is never degenerate.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[uint64]*list.Element, capacity),
	}
}

// Get returns the cached 256-byte block for key, and whether it was
// found. A hit restamps last-use and moves the entry to the front.
func (c *Cache) Get(key Key) ([]byte, bool) {
	el, ok := c.index[key.hash()]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if e.key != key {
		// hash collision across distinct keys: treat as a miss, the
		// same outcome a direct key-equality cache would give.
		c.misses++
		return nil, false
	}
	c.hits++
	e.lastUse = c.nextUse
	c.nextUse++
	c.ll.MoveToFront(el)
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true
}

// Put inserts or updates the cached block for key. Updating an existing
// key counts as neither a hit nor a miss. If the cache has no empty slot
// left, the least-recently-used entry is evicted first.
func (c *Cache) Put(key Key, data []byte) {
	h := key.hash()
	if el, ok := c.index[h]; ok {
		e := el.Value.(*entry)
		if e.key == key {
			e.data = append(e.data[:0], data...)
			e.lastUse = c.nextUse
			c.nextUse++
			c.ll.MoveToFront(el)
			return
		}
		// Hash collision between distinct keys: the stale entry no
		// longer has a reachable index slot, so evict it outright
		// rather than leak a list node no Get/Put can ever reach.
		c.ll.Remove(el)
		delete(c.index, h)
	}

	if c.ll.Len() >= c.capacity {
		c.evictOldest()
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	e := &entry{key: key, data: buf, lastUse: c.nextUse}
	c.nextUse++
	el := c.ll.PushFront(e)
	c.index[h] = el
}

func (c *Cache) evictOldest() {
	tail := c.ll.Back()
	if tail == nil {
		return
	}
	e := tail.Value.(*entry)
	delete(c.index, e.key.hash())
	c.ll.Remove(tail)
}

// Stats is a point-in-time snapshot of the cache's hit/miss counters.
type Stats struct {
	Hits     uint64
	Misses   uint64
	HitRatio float64
}

// Close returns the final hit/miss tally and hit ratio; the cache holds
// no external resources, this is the Go-idiomatic replacement for the
// original's closing statistics printout (formatting for a human is out
// of scope, the numbers themselves are not).
func (c *Cache) Close() Stats {
	total := c.hits + c.misses
	var ratio float64
	if total > 0 {
		ratio = float64(c.hits) / float64(total)
	}
	return Stats{Hits: c.hits, Misses: c.misses, HitRatio: ratio}
}
