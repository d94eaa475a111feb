//go:build go1.18

package cache

import (
	"context"
	"testing"
	"time"
)

// Fuzz an arbitrary operation sequence against a small cache and check the
// structural invariants after every step: index membership equals list
// membership, the size accounting matches the resident entries, and the
// budget holds at quiescence.
func FuzzCache_OpSequence(f *testing.F) {
	f.Add([]byte{0x00, 0x41, 0x10, 0x42, 0x20, 0x41, 0x30})
	f.Add([]byte("get/get/erase"))
	f.Add([]byte{0xff, 0xfe, 0x01, 0x02, 0x03})

	f.Fuzz(func(t *testing.T, ops []byte) {
		const limit = 1 << 10
		if len(ops) > limit {
			ops = ops[:limit]
		}

		c, err := New[byte, string](Options[byte, string]{
			MaxSize: 8,
			Expiry:  time.Minute,
			Size:    func(v string) int64 { return int64(len(v)) },
			Load: func(_ context.Context, k byte) (string, error) {
				// Value size depends on the key so shrink paths differ.
				return string(make([]byte, int(k)%6+1)), nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = c.Stop(context.Background()) })

		for _, op := range ops {
			k := op & 0x3f
			switch op >> 6 {
			case 0:
				if _, err := c.Get(context.Background(), k); err != nil {
					t.Fatalf("Get(%d): %v", k, err)
				}
			case 1:
				c.Find(k)
			case 2:
				c.Erase(k)
			case 3:
				c.RemoveIf(func(_ byte, v string) bool { return len(v) == int(k)%6+1 })
			}
			checkInvariantsFuzz(t, c)
		}
	})
}

// checkInvariantsFuzz is checkInvariants without testify, keeping the fuzz
// loop allocation-light.
func checkInvariantsFuzz(t *testing.T, c *Cache[byte, string]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	n := 0
	for e := c.head; e != nil; e = e.next {
		if c.idx.find(e.key) != e {
			t.Fatalf("list member %d missing from index", e.key)
		}
		sum += e.size
		n++
	}
	if n != c.idx.len() {
		t.Fatalf("index has %d entries, list has %d", c.idx.len(), n)
	}
	if sum != c.curSize {
		t.Fatalf("size accounting drifted: accounted %d, actual %d", c.curSize, sum)
	}
	if c.curSize > c.opt.MaxSize {
		t.Fatalf("budget violated: %d > %d", c.curSize, c.opt.MaxSize)
	}
}
