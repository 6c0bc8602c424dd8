package patterns_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/patterns"
)

func episodeWith(steps []model.ExecutionStep) *model.Episode {
	return &model.Episode{
		Context: model.Context{Domain: "coding", Language: "go"},
		Steps:   steps,
	}
}

func TestExtractToolSequenceRequiresSuccessThreshold(t *testing.T) {
	ep := episodeWith([]model.ExecutionStep{
		{ToolName: "grep", Action: "search", Result: &model.StepResult{Kind: model.StepSuccess}},
		{ToolName: "edit", Action: "apply", Result: &model.StepResult{Kind: model.StepError}},
	})
	got := patterns.ExtractAll(ep, patterns.Config{})
	for _, p := range got {
		assert.NotEqual(t, model.PatternToolSequence, p.Kind)
	}
}

func TestExtractToolSequenceBuildsPayloadOnSuccess(t *testing.T) {
	ep := episodeWith([]model.ExecutionStep{
		{ToolName: "grep", Action: "search", Result: &model.StepResult{Kind: model.StepSuccess}, LatencyMs: 100},
		{ToolName: "edit", Action: "apply", Result: &model.StepResult{Kind: model.StepSuccess}, LatencyMs: 200},
	})
	got := patterns.ExtractAll(ep, patterns.Config{})
	var found *model.Pattern
	for _, p := range got {
		if p.Kind == model.PatternToolSequence {
			found = p
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, []string{"grep", "edit"}, found.ToolSequence.Tools)
	assert.Equal(t, 1.0, found.SuccessRate)
}

func TestExtractDecisionPointsMatchesKeyword(t *testing.T) {
	ep := episodeWith([]model.ExecutionStep{
		{ToolName: "lint", Action: "check if the file compiles", Result: &model.StepResult{Kind: model.StepSuccess}},
		{ToolName: "deploy", Action: "ship it", Result: &model.StepResult{Kind: model.StepSuccess}},
	})
	got := patterns.ExtractAll(ep, patterns.Config{})
	var found *model.Pattern
	for _, p := range got {
		if p.Kind == model.PatternDecisionPoint {
			found = p
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "deploy: ship it", found.Decision.Action)
}

func TestExtractErrorRecoverySingleStep(t *testing.T) {
	ep := episodeWith([]model.ExecutionStep{
		{ToolName: "build", Action: "compile", Result: &model.StepResult{Kind: model.StepError, Message: "syntax error"}},
		{ToolName: "fix", Action: "patch typo", Result: &model.StepResult{Kind: model.StepSuccess}},
	})
	got := patterns.ExtractAll(ep, patterns.Config{})
	found := false
	for _, p := range got {
		if p.Kind == model.PatternErrorRecovery && p.Recovery.ErrorType == "syntax error" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractContextPatternAlwaysProducesOne(t *testing.T) {
	ep := episodeWith([]model.ExecutionStep{
		{ToolName: "grep", Action: "search", Result: &model.StepResult{Kind: model.StepSuccess}},
	})
	got := patterns.ExtractAll(ep, patterns.Config{})
	found := false
	for _, p := range got {
		if p.Kind == model.PatternContextPattern {
			found = true
			assert.Contains(t, p.ContextPat.ContextFeatures, "domain:coding")
		}
	}
	assert.True(t, found)
}
