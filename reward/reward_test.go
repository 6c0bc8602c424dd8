package reward_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/reward"
)

func weights() reward.Weights {
	return reward.Weights{EfficiencyWeight: 0.3, QualityWeight: 0.4, NoveltyWeight: 0.3, LatencyBaselineMs: 2 * time.Second, MaxInsightLength: 280}
}

func TestBaseRewardSuccess(t *testing.T) {
	assert.Equal(t, 1.0, reward.BaseReward(&model.TaskOutcome{Kind: model.OutcomeSuccess}))
}

func TestBaseRewardPartialSuccessRatio(t *testing.T) {
	out := &model.TaskOutcome{Kind: model.OutcomePartialSuccess, Completed: []string{"a", "b"}, Failed: []string{"c"}}
	got := reward.BaseReward(out)
	assert.InDelta(t, 2.0/3.0, got, 0.01)
}

func TestBaseRewardFailureAndNil(t *testing.T) {
	assert.Equal(t, 0.0, reward.BaseReward(&model.TaskOutcome{Kind: model.OutcomeFailure}))
	assert.Equal(t, 0.0, reward.BaseReward(nil))
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	ep := &model.Episode{
		Outcome: &model.TaskOutcome{Kind: model.OutcomeSuccess},
		Steps: []model.ExecutionStep{
			{ToolName: "grep", Result: &model.StepResult{Kind: model.StepSuccess}, LatencyMs: 50},
			{ToolName: "edit", Result: &model.StepResult{Kind: model.StepSuccess}, LatencyMs: 50},
		},
	}
	score := reward.Score(ep, nil, weights())
	require.NotNil(t, score)
	assert.GreaterOrEqual(t, score.Total, 0.0)
	assert.LessOrEqual(t, score.Total, 1.0)
	assert.Equal(t, 1.0, score.Quality)
}

func TestReflectDetectsIterativeRefinement(t *testing.T) {
	ep := &model.Episode{
		Steps: []model.ExecutionStep{
			{ToolName: "a", Result: &model.StepResult{Kind: model.StepError, Message: "boom"}},
			{ToolName: "b", Result: &model.StepResult{Kind: model.StepSuccess, Output: "ok"}},
			{ToolName: "c", Result: &model.StepResult{Kind: model.StepError, Message: "boom again"}},
			{ToolName: "d", Result: &model.StepResult{Kind: model.StepSuccess, Output: "ok"}},
		},
	}
	refl := reward.Reflect(ep, weights())
	found := false
	for _, insight := range refl.Insights {
		if insight == "iteratively refined through repeated error recovery" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Len(t, refl.WhatFailed, 2)
	assert.Len(t, refl.WhatWorked, 2)
}

func TestReflectBoundsInsightLength(t *testing.T) {
	ep := &model.Episode{Steps: []model.ExecutionStep{{ToolName: "t", Result: &model.StepResult{Kind: model.StepSuccess}}}}
	w := weights()
	w.MaxInsightLength = 5
	refl := reward.Reflect(ep, w)
	for _, insight := range refl.Insights {
		assert.LessOrEqual(t, len(insight), 5)
	}
}
