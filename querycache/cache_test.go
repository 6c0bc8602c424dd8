package querycache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/config"
	"github.com/agentic-memory/epimem/querycache"
)

func newCache(capacity int, ttl time.Duration) *querycache.Cache {
	return querycache.New(config.QueryCacheConfig{Capacity: capacity, DefaultTTL: ttl, CacheableSizeThresholdBytes: 1024})
}

func TestGetMissOnEmptyCache(t *testing.T) {
	c := newCache(10, time.Minute)
	_, ok := c.Get(querycache.Key{QueryText: "q"})
	assert.False(t, ok)
}

func TestPutThenGetHits(t *testing.T) {
	c := newCache(10, time.Minute)
	key := querycache.Key{QueryText: "q", Domain: "coding"}
	c.Put(key, "result", []querycache.Dependency{querycache.DepEpisodes}, 10, 0)
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "result", got)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestPutSkipsOversizedResults(t *testing.T) {
	c := newCache(10, time.Minute)
	key := querycache.Key{QueryText: "big"}
	c.Put(key, "result", nil, 10*1024, 0)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestGetExpiresEntryPastTTL(t *testing.T) {
	c := newCache(10, time.Millisecond)
	key := querycache.Key{QueryText: "q"}
	c.Put(key, "result", nil, 10, 0)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := newCache(2, time.Minute)
	k1 := querycache.Key{QueryText: "1"}
	k2 := querycache.Key{QueryText: "2"}
	k3 := querycache.Key{QueryText: "3"}
	c.Put(k1, "a", nil, 1, 0)
	c.Put(k2, "b", nil, 1, 0)
	c.Get(k1) // touch k1 so k2 becomes LRU
	c.Put(k3, "c", nil, 1, 0)

	_, ok := c.Get(k2)
	assert.False(t, ok)
	_, ok = c.Get(k1)
	assert.True(t, ok)
}

func TestInvalidateDropsIntersectingDependencySet(t *testing.T) {
	c := newCache(10, time.Minute)
	k1 := querycache.Key{QueryText: "1"}
	k2 := querycache.Key{QueryText: "2"}
	c.Put(k1, "a", []querycache.Dependency{querycache.DepEpisodes}, 1, 0)
	c.Put(k2, "b", []querycache.Dependency{querycache.DepPatterns}, 1, 0)

	n := c.Invalidate(querycache.DepEpisodes)
	assert.Equal(t, 1, n)
	_, ok := c.Get(k1)
	assert.False(t, ok)
	_, ok = c.Get(k2)
	assert.True(t, ok)
}

func TestInvalidateGlobalFlushDropsEverything(t *testing.T) {
	c := newCache(10, time.Minute)
	c.Put(querycache.Key{QueryText: "1"}, "a", nil, 1, 0)
	c.Put(querycache.Key{QueryText: "2"}, "b", nil, 1, 0)
	n := c.Invalidate()
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestStatsComputesHitRate(t *testing.T) {
	c := newCache(10, time.Minute)
	key := querycache.Key{QueryText: "q"}
	c.Put(key, "v", nil, 1, 0)
	c.Get(key)
	c.Get(querycache.Key{QueryText: "missing"})
	stats := c.Stats()
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}
