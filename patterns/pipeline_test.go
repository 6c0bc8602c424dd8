package patterns_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/patterns"
)

func seqPattern(tools []string, occ int, sr float64) *model.Pattern {
	return &model.Pattern{
		Kind:            model.PatternToolSequence,
		OccurrenceCount: occ,
		SuccessRate:     sr,
		UpdatedAt:       time.Now(),
		ToolSequence:    &model.ToolSequencePayload{Tools: tools},
	}
}

func TestDeduplicateMergesExactSameSequence(t *testing.T) {
	in := []*model.Pattern{
		seqPattern([]string{"grep", "edit"}, 1, 0.8),
		seqPattern([]string{"grep", "edit"}, 1, 0.9),
	}
	out := patterns.Deduplicate(in)
	assert.Len(t, out, 1)
	assert.Equal(t, 2, out[0].OccurrenceCount)
}

func TestClusterMergesOverlappingToolSequences(t *testing.T) {
	in := []*model.Pattern{
		seqPattern([]string{"grep", "edit", "test"}, 1, 0.8),
		seqPattern([]string{"grep", "edit"}, 1, 0.6),
	}
	out := patterns.Cluster(in)
	assert.Len(t, out, 1)
	assert.Equal(t, 2, out[0].OccurrenceCount)
}

func TestRankOrdersByCompositeScoreDescending(t *testing.T) {
	low := seqPattern([]string{"a"}, 1, 0.2)
	high := seqPattern([]string{"b"}, 1, 0.9)
	ranked := patterns.Rank([]*model.Pattern{low, high}, nil)
	assert.Same(t, high, ranked[0])
	assert.Same(t, low, ranked[1])
}

func TestQualifiesRequiresStrictSampleSizeAndConfidence(t *testing.T) {
	cfg := patterns.Config{}
	p := seqPattern([]string{"a"}, 2, 0.9)
	assert.True(t, patterns.Qualifies(p, cfg, false))
	assert.False(t, patterns.Qualifies(p, cfg, true))

	p.OccurrenceCount = 5
	assert.True(t, patterns.Qualifies(p, cfg, true))
}

func TestDecayDropsBelowRetainThreshold(t *testing.T) {
	old := seqPattern([]string{"a"}, 1, 0.1)
	old.UpdatedAt = time.Now().Add(-1000 * 24 * time.Hour)
	cfg := patterns.DecayConfig{Lambda: 0.01, RetainThreshold: 0.05, PinThreshold: 0.95}
	out := patterns.Decay([]*model.Pattern{old}, time.Now(), cfg, true)
	assert.Empty(t, out)
}

func TestDecaySkipsPinnedPatternsUnlessForced(t *testing.T) {
	pinned := seqPattern([]string{"a"}, 10, 0.97)
	pinned.UpdatedAt = time.Now().Add(-1000 * 24 * time.Hour)
	cfg := patterns.DecayConfig{Lambda: 0.01, RetainThreshold: 0.05, PinThreshold: 0.95}
	out := patterns.Decay([]*model.Pattern{pinned}, time.Now(), cfg, false)
	assert.Len(t, out, 1)
	assert.Equal(t, 0.97, out[0].SuccessRate)
}
