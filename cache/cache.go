package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/cailianchun/loadingcache/internal/gate"
	"github.com/cailianchun/loadingcache/internal/loadflight"
	"github.com/cailianchun/loadingcache/internal/util"
)

// Cache is an asynchronous loading cache with background refresh and
// size-bounded LRU eviction.
//
// A miss goes through a single-flight group so the loader runs at most once
// in flight per key; every concurrent requester receives a handle to the same
// produced value. Resident entries are evicted when the summed entry size
// exceeds MaxSize (LRU first), and expire when they go unread — and, in
// refresh mode, un-reloaded — for the Expiry period. In refresh mode a
// background timer reloads stale entries while readers keep getting the
// current value without blocking.
//
// All methods are safe for concurrent use. A Cache must be created by New or
// NewReloading and released with Stop.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	idx        *index[K, V]
	head, tail *entry[K, V] // LRU list: head is MRU
	curSize    int64

	opt    Options[K, V]
	reload bool
	period time.Duration

	flight loadflight.Group[K, V]
	g      gate.Gate

	clk clock.Clock
	log logrus.Ext1FieldLogger
	met Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	loopDone chan struct{}

	hits           util.PaddedAtomicInt64
	misses         util.PaddedAtomicInt64
	evictions      util.PaddedAtomicUint64
	reloads        util.PaddedAtomicUint64
	reloadFailures util.PaddedAtomicUint64
}

// New constructs a cache in expiry-only (read-through) mode: values are
// loaded in the foreground on miss, evicted by size pressure and by the
// Expiry sweep, and never reloaded in the background.
//
// Options.Load is an optional default loader; GetWith overrides it per call.
// Expiry == 0 disables caching entirely (every get calls the loader).
func New[K comparable, V any](opt Options[K, V]) (*Cache[K, V], error) {
	return newCache(opt, false)
}

// NewReloading constructs a cache in refresh mode: the configured loader is
// also invoked periodically in the background to reload entries whose load
// age exceeds Refresh, while reads keep being served from the resident value.
func NewReloading[K comparable, V any](opt Options[K, V]) (*Cache[K, V], error) {
	return newCache(opt, true)
}

func newCache[K comparable, V any](opt Options[K, V], reload bool) (*Cache[K, V], error) {
	if err := opt.validate(reload); err != nil {
		return nil, err
	}
	opt = opt.withDefaults()

	c := &Cache[K, V]{
		idx:      newIndex[K, V](opt.Hash),
		opt:      opt,
		reload:   reload,
		clk:      opt.Clock,
		log:      opt.Logger,
		met:      opt.Metrics,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if c.disabled() {
		// Passthrough mode: no storage, no timer.
		close(c.loopDone)
		return c, nil
	}

	c.period = opt.timerPeriod(reload)
	go c.timerLoop()
	return c, nil
}

func (c *Cache[K, V]) disabled() bool { return c.opt.Expiry == 0 }

// Disabled reports whether the cache operates as a pure passthrough
// (Expiry == 0): every get invokes the loader and nothing is retained.
func (c *Cache[K, V]) Disabled() bool { return c.disabled() }

// ---- read path ----

// Get returns the value for k, loading it through the configured loader on
// miss. A hit refreshes the entry's read timestamp and promotes it to MRU.
//
// Loader failures are returned to the caller and are not cached. If the
// loaded value alone is larger than MaxSize, Get fails with ErrEntryTooBig
// and the cache is left unchanged.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	p, err := c.getShared(ctx, k, c.opt.Load)
	if err != nil {
		var zero V
		return zero, err
	}
	return *p, nil
}

// GetWith is Get with a per-call loader. It is the read-through entry point
// for expiry-only caches that have no configured loader; in refresh mode the
// supplied loader replaces the configured one for this call only.
func (c *Cache[K, V]) GetWith(ctx context.Context, k K, load Loader[K, V]) (V, error) {
	p, err := c.getShared(ctx, k, load)
	if err != nil {
		var zero V
		return zero, err
	}
	return *p, nil
}

// GetShared is Get returning the shared value handle instead of a copy: all
// concurrent requesters of the same key observe the same *V. The pointee is
// never mutated by the cache; a background reload installs a fresh handle,
// so a held pointer keeps the value it was resolved with.
func (c *Cache[K, V]) GetShared(ctx context.Context, k K) (*V, error) {
	return c.getShared(ctx, k, c.opt.Load)
}

// GetSharedWith is GetShared with a per-call loader.
func (c *Cache[K, V]) GetSharedWith(ctx context.Context, k K, load Loader[K, V]) (*V, error) {
	return c.getShared(ctx, k, load)
}

func (c *Cache[K, V]) getShared(ctx context.Context, k K, load Loader[K, V]) (*V, error) {
	if load == nil {
		return nil, ErrNoLoader
	}
	select {
	case <-c.stopCh:
		return nil, ErrStopped
	default:
	}

	if c.disabled() {
		v, err := load(ctx, k)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}

	// Fast path: resolved hit.
	c.mu.Lock()
	if e := c.idx.find(k); e != nil {
		c.touchLocked(e, c.clk.Now())
		p := e.val
		c.mu.Unlock()
		c.hits.Add(1)
		c.met.Hit()
		return p, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)
	c.met.Miss()

	// Miss: join or start the single flight for this key.
	v, err := c.flight.Do(ctx, k, func() (V, error) {
		// Another flight may have installed the entry between our miss
		// and this flight starting; don't hit the loader again.
		c.mu.Lock()
		if e := c.idx.find(k); e != nil {
			v := *e.val
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()
		return load(ctx, k)
	})
	if err != nil {
		return nil, err
	}
	return c.install(k, v)
}

// install publishes a freshly loaded value, unless a concurrent requester
// already did: the index is re-checked after the load suspension and an
// existing entry wins.
func (c *Cache[K, V]) install(k K, v V) (*V, error) {
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.idx.find(k); e != nil {
		c.touchLocked(e, now)
		return e.val, nil
	}

	size := c.opt.Size(v)
	if size > c.opt.MaxSize {
		c.log.Tracef("%v: loaded entry of size %d exceeds the cache budget %d, rejecting", k, size, c.opt.MaxSize)
		return nil, ErrEntryTooBig
	}

	c.log.Tracef("%v: storing the value for the first time", k)
	e := &entry[K, V]{
		key:        k,
		val:        &v,
		loadedAt:   now,
		lastReadAt: now,
		size:       size,
	}
	c.idx.insert(e)
	c.pushFront(e)
	c.curSize += size

	if c.curSize > c.opt.MaxSize {
		c.shrinkLocked()
	}
	c.met.Size(c.idx.len(), c.curSize)
	return e.val, nil
}

// ---- lookup / mutating API ----

// Find returns the resolved value for k without counting a hit, updating the
// read timestamp or disturbing the LRU order.
func (c *Cache[K, V]) Find(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.idx.find(k); e != nil {
		return *e.peek(), true
	}
	var zero V
	return zero, false
}

// At is Find returning ErrEntryNotFound on a miss.
func (c *Cache[K, V]) At(k K) (V, error) {
	if v, ok := c.Find(k); ok {
		return v, nil
	}
	var zero V
	return zero, ErrEntryNotFound
}

// MustAt is At for keys the caller knows are resident; it panics on a miss.
func (c *Cache[K, V]) MustAt(k K) V {
	v, err := c.At(k)
	if err != nil {
		panic(err)
	}
	return v
}

// Erase removes k from the cache. It reports whether an entry was removed.
func (c *Cache[K, V]) Erase(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.idx.find(k)
	if e == nil {
		return false
	}
	c.evictLocked(e, EvictRemoved)
	c.met.Size(c.idx.len(), c.curSize)
	return true
}

// RemoveIf evicts every resident entry whose peeked value matches pred and
// returns the number removed. pred sees the value without a touch, so
// scanning does not perturb the LRU order.
func (c *Cache[K, V]) RemoveIf(pred func(k K, v V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for e := c.head; e != nil; {
		next := e.next
		if pred(e.key, *e.peek()) {
			c.evictLocked(e, EvictRemoved)
			removed++
		}
		e = next
	}
	if removed > 0 {
		c.met.Size(c.idx.len(), c.curSize)
	}
	return removed
}

// Len returns the number of resident entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx.len()
}

// Size returns the sum of resident entry sizes.
func (c *Cache[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curSize
}

// BucketCount returns the resolved index's bucket count. It changes only on
// the periodic rehash.
func (c *Cache[K, V]) BucketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx.bucketCount()
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      c.evictions.Load(),
		Reloads:        c.reloads.Load(),
		ReloadFailures: c.reloadFailures.Load(),
	}
}

// ---- shutdown ----

// Stop drains in-flight background reloads, cancels the timer and marks the
// cache stopped. Foreground gets issued before Stop complete or fail on
// their own; new gets fail with ErrStopped. Stop returns ctx.Err() if the
// drain outlives ctx, but in either case it returns only after the timer
// goroutine, and any refresh it is running, has finished.
func (c *Cache[K, V]) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		err = c.g.Close(ctx)
		close(c.stopCh)
	})
	<-c.loopDone
	return err
}

// ---- internals (mu held) ----

// evictLocked removes e from both the index and the LRU list with no
// suspension in between, and settles the size accounting.
func (c *Cache[K, V]) evictLocked(e *entry[K, V], reason EvictReason) {
	c.idx.remove(e)
	c.unlink(e)
	c.curSize -= e.size
	c.evictions.Add(1)
	c.met.Evict(reason)
}

// shrinkLocked evicts from the LRU tail until the size budget is met.
func (c *Cache[K, V]) shrinkLocked() {
	now := c.clk.Now()
	for c.curSize > c.opt.MaxSize {
		t := c.tail
		if t == nil {
			break
		}
		c.log.Tracef("shrink: %v: dropping the entry, %v since last read", t.key, now.Sub(t.lastReadAt))
		c.evictLocked(t, EvictShrink)
	}
}
