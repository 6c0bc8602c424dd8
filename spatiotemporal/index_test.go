package spatiotemporal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentic-memory/epimem/config"
	"github.com/agentic-memory/epimem/spatiotemporal"
)

func newIndex() *spatiotemporal.Index {
	return spatiotemporal.New(config.SpatiotemporalConfig{BucketSize: config.BucketHour})
}

func TestSearchFiltersByDomainAndTaskType(t *testing.T) {
	idx := newIndex()
	now := time.Now()
	idx.Insert(spatiotemporal.Entry{EpisodeID: "e1", Domain: "coding", TaskType: "fix", Timestamp: now})
	idx.Insert(spatiotemporal.Entry{EpisodeID: "e2", Domain: "research", TaskType: "fix", Timestamp: now})

	got := idx.Search(spatiotemporal.Query{Domain: "coding"})
	assert.Equal(t, []string{"e1"}, got)
}

func TestSearchOrdersByBucketRecencyThenInsertionDescending(t *testing.T) {
	idx := newIndex()
	base := time.Now().Truncate(time.Hour)
	idx.Insert(spatiotemporal.Entry{EpisodeID: "old", Domain: "coding", TaskType: "fix", Timestamp: base.Add(-3 * time.Hour)})
	idx.Insert(spatiotemporal.Entry{EpisodeID: "new1", Domain: "coding", TaskType: "fix", Timestamp: base})
	idx.Insert(spatiotemporal.Entry{EpisodeID: "new2", Domain: "coding", TaskType: "fix", Timestamp: base})

	got := idx.Search(spatiotemporal.Query{Domain: "coding", TaskType: "fix"})
	assert.Equal(t, []string{"new2", "new1", "old"}, got)
}

func TestSearchRespectsLimit(t *testing.T) {
	idx := newIndex()
	now := time.Now()
	idx.Insert(spatiotemporal.Entry{EpisodeID: "e1", Domain: "coding", TaskType: "fix", Timestamp: now})
	idx.Insert(spatiotemporal.Entry{EpisodeID: "e2", Domain: "coding", TaskType: "fix", Timestamp: now})

	got := idx.Search(spatiotemporal.Query{Domain: "coding", TaskType: "fix", Limit: 1})
	assert.Len(t, got, 1)
}

func TestSearchFiltersByTimeRange(t *testing.T) {
	idx := newIndex()
	now := time.Now()
	idx.Insert(spatiotemporal.Entry{EpisodeID: "e1", Domain: "coding", TaskType: "fix", Timestamp: now.Add(-48 * time.Hour)})
	idx.Insert(spatiotemporal.Entry{EpisodeID: "e2", Domain: "coding", TaskType: "fix", Timestamp: now})

	start := now.Add(-time.Hour)
	got := idx.Search(spatiotemporal.Query{Domain: "coding", TaskType: "fix", StartTime: &start})
	assert.Equal(t, []string{"e2"}, got)
}

func TestRemoveDropsEpisodeFromAllBuckets(t *testing.T) {
	idx := newIndex()
	now := time.Now()
	idx.Insert(spatiotemporal.Entry{EpisodeID: "e1", Domain: "coding", TaskType: "fix", Timestamp: now})
	idx.Remove("e1")
	got := idx.Search(spatiotemporal.Query{Domain: "coding"})
	assert.Empty(t, got)
}
