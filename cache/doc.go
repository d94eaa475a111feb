// Package cache provides a generic, in-memory asynchronous loading cache
// with single-flight load coalescing, size-bounded LRU eviction, time-based
// expiry, and an optional background refresh mode.
//
// # Design
//
//   - Loading: a miss never calls the loader directly. It goes through a
//     single-flight group (internal/loadflight), so the loader runs at most
//     once in flight per key and every concurrent requester of that key
//     receives a handle to the same produced value. Loader failures are
//     propagated to all joined waiters and are never cached.
//
//   - Storage: resolved entries live in one open-chained hash index whose
//     chain links are embedded in the entries, alongside an intrusive
//     MRU↔LRU doubly linked list. A single entry record carries the value
//     handle, the load/read timestamps, the cached size and both sets of
//     links, so membership in the index and in the list always agree and no
//     per-entry side allocations are needed.
//
//   - Sizing: the cache budget is the sum of per-entry sizes computed by
//     Options.Size at install/reassign time (default: 1 per entry). When the
//     budget is exceeded, entries are evicted from the LRU tail. A single
//     value bigger than the whole budget is rejected with ErrEntryTooBig
//     instead of being installed.
//
//   - Expiry: a background timer sweeps entries that have gone unread (and,
//     in refresh mode, un-reloaded) for the Expiry period. Expiry == 0
//     disables caching: every get degrades to a plain loader call.
//
//   - Refresh: NewReloading additionally reloads entries whose load age
//     exceeds Refresh. Reloads run in the background under a shutdown gate,
//     replace the value handle in place (preserving LRU position and read
//     timestamp), and swallow failures — a stale value keeps being served
//     until it either reloads successfully or ages out.
//
//   - Observability: Options.Logger (logrus) receives trace/debug messages;
//     Options.Metrics receives Hit/Miss/Evict/Reload/Size signals, with a
//     Prometheus adapter in metrics/prom; Stats() exposes raw counters.
//
// # Basic usage
//
//	// Read-through cache of up to 1024 entries, idle-expired after a minute.
//	c, err := cache.New[string, string](cache.Options[string, string]{
//	    MaxSize: 1024,
//	    Expiry:  time.Minute,
//	    Load: func(ctx context.Context, k string) (string, error) {
//	        return fetch(ctx, k) // e.g. a database read
//	    },
//	})
//	if err != nil { ... }
//	defer c.Stop(context.Background())
//
//	v, err := c.Get(ctx, "key")
//
// # Refresh mode
//
//	// Entries reload every 30s in the background and are served without
//	// blocking; pick Expiry > Refresh + typical load latency so hot entries
//	// never age out between reloads.
//	c, err := cache.NewReloading[string, *Record](cache.Options[string, *Record]{
//	    MaxSize: 4 << 20,
//	    Expiry:  5 * time.Minute,
//	    Refresh: 30 * time.Second,
//	    Size:    func(r *Record) int64 { return r.ByteSize() },
//	    Load:    loadRecord,
//	})
//
// # Concurrency
//
// All methods are safe for concurrent use. One mutex guards the index, the
// LRU list and the size accounting; loaders always run outside the lock, and
// every path that awaited a loader re-checks the index before mutating, so a
// key can be resolved by whichever requester finishes first.
package cache
