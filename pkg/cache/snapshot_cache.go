// Package cache provides result caching keyed by store snapshot.
//
// Results computed at a committed snapshot never change: later commits
// create new snapshots instead of editing old ones. A cache keyed by
// snapshot therefore needs no invalidation, only LRU eviction to bound
// memory as the snapshot advances.
//
// Usage:
//
//	sizes := cache.NewSnapshotCache[int](256)
//
//	key := cache.Key(snapshot, "<http://example.org/g>")
//	if n, ok := sizes.Get(key); ok {
//		return n
//	}
//	n := countStatements(snapshot)
//	sizes.Put(key, n)
package cache

import (
	"container/list"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultMaxSize is used when NewSnapshotCache is given a non-positive size.
const DefaultMaxSize = 1000

// SnapshotCache is a thread-safe LRU cache of values computed at a snapshot.
type SnapshotCache[V any] struct {
	mu sync.Mutex

	maxSize int
	list    *list.List
	items   map[string]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheEntry[V any] struct {
	key   string
	value V
}

// NewSnapshotCache creates a cache holding at most maxSize entries.
func NewSnapshotCache[V any](maxSize int) *SnapshotCache[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &SnapshotCache[V]{
		maxSize: maxSize,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Key builds a cache key from a snapshot and the parts identifying the
// computation. Parts are joined with a separator that cannot occur in
// N-Triples terms, so distinct part lists never share a key.
func Key(snapshot int64, parts ...string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(snapshot, 10))
	for _, p := range parts {
		b.WriteByte(0)
		b.WriteString(p)
	}
	return b.String()
}

// Get returns the cached value for key and marks it most recently used.
func (c *SnapshotCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*cacheEntry[V]).value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *SnapshotCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry[V]).value = value
		c.list.MoveToFront(elem)
		return
	}
	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = c.list.PushFront(&cacheEntry[V]{key: key, value: value})
}

// Clear removes all entries.
func (c *SnapshotCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *SnapshotCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"` // percentage, 0-100
}

// Stats returns cache statistics.
func (c *SnapshotCache[V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    c.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *SnapshotCache[V]) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.list.Remove(elem)
		delete(c.items, elem.Value.(*cacheEntry[V]).key)
	}
}
