// Command bench runs a synthetic workload against the loading cache and
// exposes a Prometheus metrics endpoint and an optional pprof endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cailianchun/loadingcache/cache"
	pmet "github.com/cailianchun/loadingcache/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		maxSize = flag.Int64("max_size", 100_000, "cache size budget (entry-count units)")
		expiry  = flag.Duration("expiry", time.Minute, "idle expiry period")
		refresh = flag.Duration("refresh", 0, "background refresh period (0 = expiry-only mode)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")

		keys     = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS    = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV    = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		loadWait = flag.Duration("load_wait", 0, "artificial loader latency")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "loadingcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	var loads uint64
	loader := func(_ context.Context, k string) (string, error) {
		atomic.AddUint64(&loads, 1)
		if *loadWait > 0 {
			time.Sleep(*loadWait)
		}
		return "v" + k, nil
	}
	opt := cache.Options[string, string]{
		MaxSize: *maxSize,
		Expiry:  *expiry,
		Metrics: metrics,
		Load:    loader,
	}

	var c *cache.Cache[string, string]
	var err error
	if *refresh > 0 {
		opt.Refresh = *refresh
		c, err = cache.NewReloading[string, string](opt)
	} else {
		c, err = cache.New[string, string](opt)
	}
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Stop(context.Background()) }()

	// ---- Snapshot flags for goroutines ----
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var total, failures uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				k := "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
				if _, err := c.Get(context.Background(), k); err != nil {
					atomic.AddUint64(&failures, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	st := c.Stats()
	hitRate := 0.0
	if st.Hits+st.Misses > 0 {
		hitRate = float64(st.Hits) / float64(st.Hits+st.Misses) * 100
	}

	fmt.Printf("max_size=%d expiry=%v refresh=%v workers=%d keys=%d dur=%v seed=%d\n",
		*maxSize, *expiry, *refresh, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  loads=%d  failures=%d\n",
		ops, float64(ops)/elapsed.Seconds(), atomic.LoadUint64(&loads), atomic.LoadUint64(&failures))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%  evictions=%d  reloads=%d\n",
		st.Hits, st.Misses, hitRate, st.Evictions, st.Reloads)
	fmt.Printf("Len()=%d  Size()=%d\n", c.Len(), c.Size())
}
