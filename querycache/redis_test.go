package querycache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/querycache"
)

func setupRemoteCache(t *testing.T) *querycache.RemoteCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc, err := querycache.NewRemoteCache(context.Background(), "redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestRemoteCachePutThenGetRoundTrips(t *testing.T) {
	rc := setupRemoteCache(t)
	key := querycache.Key{QueryText: "flaky test", Domain: "ci", Limit: 5}
	rc.Put(context.Background(), key, []string{"a", "b"}, []querycache.Dependency{querycache.DepEpisodes}, time.Minute)

	var got []string
	ok := rc.Get(context.Background(), key, &got)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRemoteCacheGetMissesOnUnknownKey(t *testing.T) {
	rc := setupRemoteCache(t)
	var got []string
	ok := rc.Get(context.Background(), querycache.Key{QueryText: "nope"}, &got)
	assert.False(t, ok)
}

func TestRemoteCacheInvalidateDropsSingleKey(t *testing.T) {
	rc := setupRemoteCache(t)
	key := querycache.Key{QueryText: "x", Limit: 1}
	rc.Put(context.Background(), key, "value", nil, time.Minute)
	rc.Invalidate(context.Background(), key)

	var got string
	ok := rc.Get(context.Background(), key, &got)
	assert.False(t, ok)
}

func TestRemoteCacheInvalidateDepsDropsOnlyMatchingEntries(t *testing.T) {
	rc := setupRemoteCache(t)
	ctx := context.Background()
	episodesKey := querycache.Key{QueryText: "a", Limit: 1}
	patternsKey := querycache.Key{QueryText: "b", Limit: 1}

	rc.Put(ctx, episodesKey, "e", []querycache.Dependency{querycache.DepEpisodes}, time.Minute)
	rc.Put(ctx, patternsKey, "p", []querycache.Dependency{querycache.DepPatterns}, time.Minute)

	rc.InvalidateDeps(ctx, querycache.DepEpisodes)

	var e, p string
	assert.False(t, rc.Get(ctx, episodesKey, &e))
	assert.True(t, rc.Get(ctx, patternsKey, &p))
	assert.Equal(t, "p", p)
}

func TestRemoteCacheInvalidateDepsWithNoDepsFlushesAll(t *testing.T) {
	rc := setupRemoteCache(t)
	ctx := context.Background()
	keyA := querycache.Key{QueryText: "a", Limit: 1}
	keyB := querycache.Key{QueryText: "b", Limit: 1}
	rc.Put(ctx, keyA, "a", []querycache.Dependency{querycache.DepEpisodes}, time.Minute)
	rc.Put(ctx, keyB, "b", []querycache.Dependency{querycache.DepPatterns}, time.Minute)

	rc.InvalidateDeps(ctx)

	var a, b string
	assert.False(t, rc.Get(ctx, keyA, &a))
	assert.False(t, rc.Get(ctx, keyB, &b))
}
