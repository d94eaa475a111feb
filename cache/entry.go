package cache

import "time"

// entry is a resolved cache member. One record fuses everything the cache
// needs to track per key: the shared value handle, the load/read timestamps,
// the cached size, the intrusive LRU links and the index bucket link.
//
// All fields are guarded by the owning cache's mutex. The *V handle itself is
// immutable once published; a reload swaps the pointer rather than mutating
// the pointee, so handles held by callers keep the value they observed.
type entry[K comparable, V any] struct {
	key K
	val *V

	// loadedAt is the time of the most recent successful load or reload.
	// lastReadAt is the time of the most recent get hit; Find and the
	// background reload leave it alone.
	loadedAt   time.Time
	lastReadAt time.Time

	// size is the Size(v) result captured at install/reassign time.
	size int64

	// Intrusive LRU links: head is MRU, tail is LRU.
	prev, next *entry[K, V]

	// Index bucket chain link.
	hnext *entry[K, V]
}

// peek returns the value handle without touching timestamps or LRU order.
func (e *entry[K, V]) peek() *V { return e.val }

// ---- LRU list (owned by the cache, mutated under its lock) ----

// pushFront inserts e at MRU in O(1).
func (c *Cache[K, V]) pushFront(e *entry[K, V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// moveToFront promotes e to MRU in O(1).
func (c *Cache[K, V]) moveToFront(e *entry[K, V]) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

// unlink detaches e from the list in O(1).
func (c *Cache[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if c.head == e {
		c.head = e.next
	}
	if c.tail == e {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// touchLocked records a read: lastReadAt advances and the entry becomes MRU.
// The two updates are deliberately inseparable.
func (c *Cache[K, V]) touchLocked(e *entry[K, V], now time.Time) {
	e.lastReadAt = now
	c.moveToFront(e)
}

// reassignLocked replaces the value after a successful reload. LRU position
// and lastReadAt are preserved; only loadedAt, the handle and the size
// accounting change.
func (c *Cache[K, V]) reassignLocked(e *entry[K, V], v V, now time.Time) {
	newSize := c.opt.Size(v)
	c.curSize += newSize - e.size
	e.val = &v
	e.size = newSize
	e.loadedAt = now
}
