package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/cailianchun/loadingcache/internal/util"
)

func TestIndex_InsertFindRemove(t *testing.T) {
	t.Parallel()

	ix := newIndex[string, int](util.Fnv64a[string])
	require.Nil(t, ix.find("a"))

	entries := make([]*entry[string, int], 0, 8)
	for i := 0; i < 8; i++ {
		e := &entry[string, int]{key: "k" + strconv.Itoa(i)}
		ix.insert(e)
		entries = append(entries, e)
	}
	require.Equal(t, 8, ix.len())

	for i, e := range entries {
		require.Same(t, e, ix.find("k"+strconv.Itoa(i)))
	}

	ix.remove(entries[3])
	require.Nil(t, ix.find("k3"))
	require.Equal(t, 7, ix.len())

	// Removing the first and the last inserted entries works as well.
	ix.remove(entries[0])
	ix.remove(entries[7])
	require.Equal(t, 5, ix.len())
	for _, i := range []int{1, 2, 4, 5, 6} {
		require.NotNil(t, ix.find("k"+strconv.Itoa(i)))
	}
}

func TestIndex_RehashGrowsAndShrinks(t *testing.T) {
	t.Parallel()

	ix := newIndex[int, int](util.Fnv64a[int])
	require.Equal(t, indexMinBuckets, ix.bucketCount())

	entries := make([]*entry[int, int], 0, 1000)
	for i := 0; i < 1000; i++ {
		e := &entry[int, int]{key: i}
		ix.insert(e)
		entries = append(entries, e)
	}

	// Buckets grow only on rehash, never on insert.
	require.Equal(t, indexMinBuckets, ix.bucketCount())
	require.True(t, ix.rehash())
	grown := ix.bucketCount()
	require.True(t, util.IsPowerOfTwo(uint64(grown)))
	require.LessOrEqual(t, float64(ix.len())/float64(grown), 0.75)

	// Every entry survives the rehash.
	for _, e := range entries {
		require.Same(t, e, ix.find(e.key))
	}

	// A stable population does not rehash again.
	require.False(t, ix.rehash())

	// Dropping most entries shrinks back on the next rehash.
	for _, e := range entries[:990] {
		ix.remove(e)
	}
	require.True(t, ix.rehash())
	require.Less(t, ix.bucketCount(), grown)
	require.GreaterOrEqual(t, ix.bucketCount(), indexMinBuckets)
	for _, e := range entries[990:] {
		require.Same(t, e, ix.find(e.key))
	}
}

func TestIndex_CustomHashCollisions(t *testing.T) {
	t.Parallel()

	// A degenerate hash forces every key into one bucket; the index must
	// stay correct, only slower.
	ix := newIndex[int, int](func(int) uint64 { return 42 })
	entries := make([]*entry[int, int], 0, 32)
	for i := 0; i < 32; i++ {
		e := &entry[int, int]{key: i}
		ix.insert(e)
		entries = append(entries, e)
	}
	for _, e := range entries {
		require.Same(t, e, ix.find(e.key))
	}
	for _, e := range entries {
		ix.remove(e)
	}
	require.Equal(t, 0, ix.len())
}

// The cache's bucket count changes only on the periodic sweep, keeping the
// load factor bounded as the population grows.
func TestCache_BucketCountTracksRehash(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	c, err := New[int, int](Options[int, int]{
		MaxSize: 4096,
		Expiry:  time.Hour,
		Clock:   clk,
		Load: func(_ context.Context, k int) (int, error) {
			return k, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	require.Equal(t, indexMinBuckets, c.BucketCount())

	for k := 0; k < 1000; k++ {
		_, err := c.Get(context.Background(), k)
		require.NoError(t, err)
	}
	// No sweep yet: inserts alone never rehash.
	require.Equal(t, indexMinBuckets, c.BucketCount())

	time.Sleep(10 * time.Millisecond)
	advance(clk, time.Hour, 30*time.Minute)
	require.Eventually(t, func() bool {
		bc := c.BucketCount()
		return bc > indexMinBuckets && float64(c.Len())/float64(bc) <= 0.75
	}, 2*time.Second, 10*time.Millisecond)
}
