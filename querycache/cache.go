// Package querycache implements the content-addressed LRU query cache
// fronting the retrieval engine, with smart table-dependency
// invalidation (spec.md §4.6, C6).
package querycache

import (
	"container/list"
	"sync"
	"time"

	"github.com/agentic-memory/epimem/config"
)

// Dependency names the storage tables a cache entry's result depends
// on; a mutation to any of these tables invalidates the entry.
type Dependency string

const (
	DepEpisodes   Dependency = "episodes"
	DepPatterns   Dependency = "patterns"
	DepHeuristics Dependency = "heuristics"
	DepEmbeddings Dependency = "embeddings"
)

// Key is the structured, content-addressed cache key.
type Key struct {
	QueryText string
	Domain    string
	TaskType  string
	TimeRange string
	Limit     int
}

type entry struct {
	key          Key
	value        interface{}
	dependencies map[Dependency]bool
	cachedAt     time.Time
	ttl          time.Duration
	sizeEstimate int
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.cachedAt) > e.ttl
}

// Metrics snapshots the cache's running counters, per spec.md §4.6.
type Metrics struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	Invalidations int64
	Size         int
	Capacity     int
	HitRate      float64
}

// Cache is a strict-LRU, TTL-checked, dependency-invalidated cache.
// Safe for concurrent use.
type Cache struct {
	mu                   sync.Mutex
	capacity             int
	defaultTTL           time.Duration
	cacheableSizeThresh  int
	order                *list.List
	items                map[Key]*list.Element
	hits, misses         int64
	evictions            int64
	invalidations        int64
}

// New builds a Cache from the configured capacity/TTL/size threshold.
func New(cfg config.QueryCacheConfig) *Cache {
	return &Cache{
		capacity:            cfg.Capacity,
		defaultTTL:          cfg.DefaultTTL,
		cacheableSizeThresh: cfg.CacheableSizeThresholdBytes,
		order:               list.New(),
		items:               make(map[Key]*list.Element),
	}
}

// Get returns the cached value for key, nil+false on miss or expiry.
// A hit moves the entry to the front (most-recently-used).
func (c *Cache) Get(key Key) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(time.Now()) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put stores value under key with the given dependency set and an
// estimated size in bytes. Values whose estimate exceeds the
// cacheable-size threshold are silently not cached, per spec.md §4.6.
// TTL defaults to the cache's configured default when ttl <= 0.
func (c *Cache) Put(key Key, value interface{}, deps []Dependency, sizeEstimate int, ttl time.Duration) {
	if sizeEstimate > c.cacheableSizeThresh {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	depSet := make(map[Dependency]bool, len(deps))
	for _, d := range deps {
		depSet[d] = true
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.dependencies = depSet
		e.cachedAt = time.Now()
		e.ttl = ttl
		e.sizeEstimate = sizeEstimate
		c.order.MoveToFront(el)
		return
	}

	e := &entry{key: key, value: value, dependencies: depSet, cachedAt: time.Now(), ttl: ttl, sizeEstimate: sizeEstimate}
	el := c.order.PushFront(e)
	c.items[key] = el

	if c.capacity > 0 && len(c.items) > c.capacity {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeElement(oldest)
	c.evictions++
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}

// Invalidate drops every entry whose dependency set intersects deps.
// Passing no dependencies (deps empty) is a global flush.
func (c *Cache) Invalidate(deps ...Dependency) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(deps) == 0 {
		n := len(c.items)
		c.items = make(map[Key]*list.Element)
		c.order = list.New()
		c.invalidations += int64(n)
		return n
	}

	changed := 0
	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*entry)
		for _, d := range deps {
			if e.dependencies[d] {
				c.removeElement(el)
				changed++
				break
			}
		}
	}
	c.invalidations += int64(changed)
	return changed
}

// InvalidateKey drops a single entry by its exact key, if present.
func (c *Cache) InvalidateKey(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	c.invalidations++
	return true
}

// Sweep removes all expired entries and returns how many it removed.
// Nothing in this package runs it on a timer; it runs only when called,
// in addition to the lazy check Get performs on read.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		if el.Value.(*entry).expired(now) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the running counters.
func (c *Cache) Stats() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Metrics{
		Hits: c.hits, Misses: c.misses, Evictions: c.evictions,
		Invalidations: c.invalidations, Size: len(c.items), Capacity: c.capacity, HitRate: hitRate,
	}
}
