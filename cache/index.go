package cache

import (
	"github.com/cailianchun/loadingcache/internal/util"
)

// index is the resolved-entry lookup structure: an open-chained hash table
// whose chain links live inside the entries themselves, so lookups cost one
// bucket probe plus a short chain walk and inserts allocate nothing.
//
// The bucket count is always a power of two. It only changes inside rehash,
// which the controller calls from the timer's synchronous prefix; no
// iteration is ever live across a rehash.
type index[K comparable, V any] struct {
	buckets []*entry[K, V]
	n       int
	hash    func(K) uint64
}

const (
	indexMinBuckets = 16
	// indexMaxLoadNum/indexMaxLoadDen is the load factor ceiling rehash
	// restores, expressed as a fraction: n/buckets <= 3/4.
	indexMaxLoadNum = 3
	indexMaxLoadDen = 4
)

func newIndex[K comparable, V any](hash func(K) uint64) *index[K, V] {
	return &index[K, V]{
		buckets: make([]*entry[K, V], indexMinBuckets),
		hash:    hash,
	}
}

func (ix *index[K, V]) bucket(k K) int {
	return int(ix.hash(k) & uint64(len(ix.buckets)-1))
}

// find returns the entry for k, or nil.
func (ix *index[K, V]) find(k K) *entry[K, V] {
	for e := ix.buckets[ix.bucket(k)]; e != nil; e = e.hnext {
		if e.key == k {
			return e
		}
	}
	return nil
}

// insert adds e to its bucket. The caller guarantees the key is absent.
func (ix *index[K, V]) insert(e *entry[K, V]) {
	b := ix.bucket(e.key)
	e.hnext = ix.buckets[b]
	ix.buckets[b] = e
	ix.n++
}

// remove unchains e from its bucket. The caller guarantees membership.
func (ix *index[K, V]) remove(e *entry[K, V]) {
	b := ix.bucket(e.key)
	if ix.buckets[b] == e {
		ix.buckets[b] = e.hnext
	} else {
		for p := ix.buckets[b]; p != nil; p = p.hnext {
			if p.hnext == e {
				p.hnext = e.hnext
				break
			}
		}
	}
	e.hnext = nil
	ix.n--
}

func (ix *index[K, V]) len() int { return ix.n }

func (ix *index[K, V]) bucketCount() int { return len(ix.buckets) }

// rehash grows or shrinks the bucket array so the load factor stays at or
// below 3/4, and reports whether the bucket count changed. Shrinking stops
// at the minimum bucket count.
func (ix *index[K, V]) rehash() bool {
	want := int(util.NextPow2(uint64(ix.n*indexMaxLoadDen+indexMaxLoadNum-1) / indexMaxLoadNum))
	if want < indexMinBuckets {
		want = indexMinBuckets
	}
	if want == len(ix.buckets) {
		return false
	}

	old := ix.buckets
	ix.buckets = make([]*entry[K, V], want)
	for _, e := range old {
		for e != nil {
			next := e.hnext
			b := ix.bucket(e.key)
			e.hnext = ix.buckets[b]
			ix.buckets[b] = e
			e = next
		}
	}
	return true
}
