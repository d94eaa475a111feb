package cache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

// timerLoop owns the background sweep. One goroutine per cache; it exits when
// Stop closes stopCh.
func (c *Cache[K, V]) timerLoop() {
	defer close(c.loopDone)

	t := c.clk.Timer(c.period)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.tick(t)
		}
	}
}

// tick runs one background sweep: drop expired entries, shrink to the size
// budget, rehash the index, then (refresh mode) reload stale entries in
// parallel under the shutdown gate. The timer is rearmed relative to the
// moment the sweep started, so a long sweep does not drift the schedule.
func (c *Cache[K, V]) tick(t *clock.Timer) {
	start := c.clk.Now()
	c.log.Trace("timer tick: start")

	c.mu.Lock()
	c.dropExpiredLocked(start)
	c.shrinkLocked()
	if c.idx.rehash() {
		c.log.Tracef("timer tick: rehashed to %d buckets", c.idx.bucketCount())
	}
	c.met.Size(c.idx.len(), c.curSize)

	var stale []K
	if c.reload {
		for e := c.head; e != nil; e = e.next {
			if e.loadedAt.Add(c.opt.Refresh).Before(start) {
				// Capture the key by value; the entry may be gone by the
				// time the reload resumes.
				stale = append(stale, e.key)
			}
		}
	}
	c.mu.Unlock()

	if len(stale) > 0 {
		c.refreshStale(stale)
	}

	// Rearm relative to the sweep start.
	d := c.period - c.clk.Since(start)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	t.Reset(d)
}

// refreshStale reloads the captured keys with a cooperative fan-out. The
// whole step runs as one gate span so Stop can drain it; once the gate is
// closed the refresh is skipped and the tick rearms as usual.
func (c *Cache[K, V]) refreshStale(stale []K) {
	if err := c.g.Enter(); err != nil {
		return
	}
	defer c.g.Leave()

	var g errgroup.Group
	for _, k := range stale {
		k := k
		g.Go(func() error {
			c.reloadKey(k)
			return nil
		})
	}
	// Reload outcomes are swallowed per entry; one bad key never poisons
	// the tick.
	_ = g.Wait()
}

// reloadKey re-runs the loader for a resident key and reassigns the entry in
// place on success. Failures are logged at debug level and leave the stale
// entry intact; if they persist, the entry ages out through the expiry sweep.
func (c *Cache[K, V]) reloadKey(k K) {
	c.log.Tracef("%v: reloading the value", k)
	v, err := c.opt.Load(context.Background(), k)
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.idx.find(k)
	if e == nil {
		c.log.Tracef("%v: entry was dropped during the reload", k)
		return
	}
	if err != nil {
		c.log.Debugf("%v: reload failed: %v", k, err)
		c.reloadFailures.Add(1)
		c.met.Reload(false)
		return
	}
	c.reassignLocked(e, v, now)
	c.reloads.Add(1)
	c.met.Reload(true)
	// The new size may push the total over budget; the next tick's shrink
	// settles it.
}

// dropExpiredLocked sweeps the LRU list and evicts every entry that has not
// been read — and, in refresh mode, not successfully reloaded — for the
// whole expiry period.
func (c *Cache[K, V]) dropExpiredLocked(now time.Time) {
	for e := c.head; e != nil; {
		next := e.next
		sinceRead := now.Sub(e.lastReadAt)
		sinceLoaded := now.Sub(e.loadedAt)
		if sinceRead > c.opt.Expiry || (c.reload && sinceLoaded > c.opt.Expiry) {
			c.log.Tracef("drop expired: %v: expiry %v, since loaded %v, since last read %v",
				e.key, c.opt.Expiry, sinceLoaded, sinceRead)
			c.evictLocked(e, EvictExpired)
		}
		e = next
	}
}
