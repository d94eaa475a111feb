package cache

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/cailianchun/loadingcache/internal/util"
)

// Loader produces the value for a key. It may block, may be invoked
// concurrently for distinct keys, and is never invoked more than once in
// flight for the same key.
type Loader[K comparable, V any] func(ctx context.Context, k K) (V, error)

// Options configures the cache. Zero values get sane defaults in the
// constructors:
//   - nil Size    => every entry costs 1 (entry-count cache)
//   - nil Hash    => util.Fnv64a (panics on exotic key types)
//   - nil Logger  => logs are discarded
//   - nil Metrics => NoopMetrics
//   - nil Clock   => the wall clock
type Options[K comparable, V any] struct {
	// MaxSize bounds the sum of entry sizes. Required (> 0) whenever
	// caching is enabled.
	MaxSize int64

	// Expiry is how long an entry may stay resident without being read
	// (and, in refresh mode, without a successful reload). Expiry == 0
	// disables caching entirely: the get family degrades to calling the
	// loader on every request and nothing is ever stored.
	Expiry time.Duration

	// Refresh is the background reload period. Only meaningful for
	// NewReloading, where it must be > 0 when caching is enabled. Pick
	// Expiry > Refresh + typical load latency, otherwise entries age out
	// between reloads and every read loads in the foreground.
	Refresh time.Duration

	// Load is the loader used by Get. Required for NewReloading; for New
	// it is an optional default that GetWith can override per call.
	Load Loader[K, V]

	// Size computes an entry's size at install/reassign time. The result
	// is cached in the entry; a pure function is expected.
	Size func(v V) int64

	// Hash overrides the key hash used by the resolved index.
	Hash func(k K) uint64

	// Logger receives trace-level messages for installs, evictions, reload
	// decisions and rehashes, and debug-level messages for reload failures.
	// Ext1FieldLogger rather than FieldLogger because the cache logs at
	// trace level.
	Logger logrus.Ext1FieldLogger

	// Metrics receives hit/miss/evict/reload/size signals.
	Metrics Metrics

	// Clock overrides the time source and timer, mockable in tests.
	Clock clock.Clock
}

// withDefaults fills in the documented defaults.
func (o Options[K, V]) withDefaults() Options[K, V] {
	if o.Size == nil {
		o.Size = func(V) int64 { return 1 }
	}
	if o.Hash == nil {
		o.Hash = util.Fnv64a[K]
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// validate checks the knob combinations common to both modes.
func (o Options[K, V]) validate(reload bool) error {
	if o.Expiry < 0 {
		return configErrorf("expiry must not be negative")
	}
	if o.Expiry == 0 {
		// Caching disabled: the remaining knobs are irrelevant.
		return nil
	}
	if o.MaxSize <= 0 {
		return configErrorf("caching is enabled but max size is %d", o.MaxSize)
	}
	if reload {
		if o.Refresh <= 0 {
			return configErrorf("refresh mode needs a positive refresh period, got %v", o.Refresh)
		}
		if o.Load == nil {
			return configErrorf("refresh mode needs a loader")
		}
	} else if o.Refresh != 0 {
		return configErrorf("refresh period is only valid with NewReloading")
	}
	return nil
}

// timerPeriod returns the background sweep period for the selected mode.
func (o Options[K, V]) timerPeriod(reload bool) time.Duration {
	if reload {
		if o.Refresh < o.Expiry {
			return o.Refresh
		}
		return o.Expiry
	}
	p := o.Expiry / 2
	if p < time.Millisecond {
		p = time.Millisecond
	}
	return p
}
