package heuristics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/heuristics"
	"github.com/agentic-memory/epimem/model"
)

func decisionPattern(condition, action string, successRate float64, occ int) *model.Pattern {
	now := time.Now()
	return &model.Pattern{
		Kind:            model.PatternDecisionPoint,
		OccurrenceCount: occ,
		SuccessRate:     successRate,
		CreatedAt:       now,
		UpdatedAt:       now,
		Decision:        &model.DecisionPointPayload{Condition: condition, Action: action},
	}
}

func TestExtractSkipsLowConfidencePatterns(t *testing.T) {
	p := decisionPattern("coding+go+check if tests pass", "run: go test", 0.4, 1)
	got := heuristics.Extract([]*model.Pattern{p}, "ep-1", heuristics.Config{})
	assert.Empty(t, got)
}

func TestExtractPromotesConfidentPattern(t *testing.T) {
	p := decisionPattern("coding+go+check if tests pass", "run: go test", 0.9, 1)
	got := heuristics.Extract([]*model.Pattern{p}, "ep-1", heuristics.Config{})
	require.Len(t, got, 1)
	assert.Equal(t, "run: go test", got[0].Action)
	assert.Equal(t, 0.9, got[0].Confidence)
	assert.Equal(t, []string{"ep-1"}, got[0].Evidence.EpisodeIDs)
}

func TestMergeCombinesEvidenceAndWeightsConfidence(t *testing.T) {
	a := &model.Heuristic{Confidence: 1.0, Evidence: model.HeuristicEvidence{EpisodeIDs: []string{"e1"}, SampleSize: 1}}
	b := &model.Heuristic{Confidence: 0.0, Evidence: model.HeuristicEvidence{EpisodeIDs: []string{"e2"}, SampleSize: 1}}
	merged := heuristics.Merge(a, b)
	assert.InDelta(t, 0.5, merged.Confidence, 0.001)
	assert.ElementsMatch(t, []string{"e1", "e2"}, merged.Evidence.EpisodeIDs)
	assert.Equal(t, 2, merged.Evidence.SampleSize)
}

func TestContextRelevanceAddsWeightedComponents(t *testing.T) {
	h := &model.Heuristic{Condition: "coding+go+check if tests pass for urgent task"}
	ctx := model.Context{Domain: "coding", Language: "go", Framework: "", Tags: []string{"urgent"}}
	score := heuristics.ContextRelevance(h, ctx)
	assert.InDelta(t, 1.0+0.8+0.3, score, 0.001)
}

func TestRankOrdersByConfidenceTimesRelevance(t *testing.T) {
	ctx := model.Context{Domain: "coding"}
	strong := &model.Heuristic{Condition: "coding+go+x", Confidence: 0.9}
	weak := &model.Heuristic{Condition: "other+go+x", Confidence: 0.9}
	ranked := heuristics.Rank([]*model.Heuristic{weak, strong}, ctx)
	assert.Same(t, strong, ranked[0])
}
