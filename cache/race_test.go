package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent Get/Find/Erase/RemoveIf on random keys.
// Should pass under `-race` without detector reports.
func TestRace_MixedWorkload(t *testing.T) {
	c, err := New[string, []byte](Options[string, []byte]{
		MaxSize: 4_096,
		Expiry:  time.Second,
		Size:    func(v []byte) int64 { return int64(len(v)) },
		Load: func(_ context.Context, k string) ([]byte, error) {
			return []byte(k), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 10_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id)*7919 + 1))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% — Erase
					c.Erase(k)
				case 5, 6: // ~2% — RemoveIf of every value longer than 5 bytes
					c.RemoveIf(func(_ string, v []byte) bool { return len(v) > 5 })
				case 7, 8, 9: // ~3% — Find
					c.Find(k)
				default: // ~90% — Get
					if _, err := c.Get(context.Background(), k); err != nil {
						t.Errorf("Get(%q): %v", k, err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	checkInvariants(t, c)
}

// One hundred goroutines get the same key concurrently while the background
// refresh is live; the loader runs at most once before the first resolution.
func TestRace_ConcurrentGetSameKey(t *testing.T) {
	var calls int64
	c, err := NewReloading[string, string](Options[string, string]{
		MaxSize: 64,
		Expiry:  10 * time.Second,
		Refresh: 5 * time.Second,
		Load: func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(2 * time.Millisecond)
			return "v:" + k, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	const goroutines = 100
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, err := c.Get(context.Background(), "same-key")
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			if v != "v:same-key" {
				t.Errorf("unexpected value %q", v)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got > 1 {
		t.Fatalf("loader should run at most once, got %d", got)
	}
}

// Stop racing against live traffic: gets either succeed or fail with
// ErrStopped, never anything else, and Stop itself returns.
func TestRace_StopUnderTraffic(t *testing.T) {
	c, err := New[int, int](Options[int, int]{
		MaxSize: 128,
		Expiry:  time.Second,
		Load: func(_ context.Context, k int) (int, error) {
			return k, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 1_000; i++ {
				_, err := c.Get(context.Background(), (id*1_000+i)%257)
				if err != nil && err != ErrStopped {
					t.Errorf("Get: %v", err)
					return
				}
			}
		}(w)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	wg.Wait()
}
