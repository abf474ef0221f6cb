package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotCache(t *testing.T) {
	assert.Equal(t, 10, NewSnapshotCache[int](10).maxSize)
	assert.Equal(t, DefaultMaxSize, NewSnapshotCache[int](0).maxSize)
	assert.Equal(t, DefaultMaxSize, NewSnapshotCache[int](-5).maxSize)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key(3), Key(3))
	assert.NotEqual(t, Key(3), Key(4))
	assert.NotEqual(t, Key(3, "<a>"), Key(3))
	assert.NotEqual(t, Key(3, "ab", "c"), Key(3, "a", "bc"))
	assert.NotEqual(t, Key(1, "2"), Key(12))
}

func TestSnapshotCacheGetPut(t *testing.T) {
	c := NewSnapshotCache[int](10)
	_, ok := c.Get(Key(1))
	assert.False(t, ok)

	c.Put(Key(1), 5)
	n, ok := c.Get(Key(1))
	require.True(t, ok)
	assert.Equal(t, 5, n)

	c.Put(Key(1), 6)
	n, _ = c.Get(Key(1))
	assert.Equal(t, 6, n)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 66.67, stats.HitRate, 0.01)

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestSnapshotCacheEviction(t *testing.T) {
	c := NewSnapshotCache[string](2)
	c.Put(Key(1), "one")
	c.Put(Key(2), "two")
	_, ok := c.Get(Key(1))
	require.True(t, ok, "touch 1 so 2 becomes least recently used")

	c.Put(Key(3), "three")
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(Key(2))
	assert.False(t, ok)
	_, ok = c.Get(Key(1))
	assert.True(t, ok)
	_, ok = c.Get(Key(3))
	assert.True(t, ok)
}

func TestSnapshotCacheConcurrent(t *testing.T) {
	c := NewSnapshotCache[int](50)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := Key(int64(i%100), fmt.Sprint(w%2))
				if v, ok := c.Get(key); ok {
					assert.Equal(t, i%100, v)
					continue
				}
				c.Put(key, i%100)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
