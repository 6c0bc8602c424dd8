// Package reward computes a deterministic reward score and a textual
// reflection from a completed episode's steps and outcome (spec.md
// §4.9, C9).
package reward

import (
	"fmt"
	"time"

	"github.com/agentic-memory/epimem/model"
)

// Weights controls the composite reward's component weighting.
// LatencyBaselineMs normalizes per-step latency into [0,1] for the
// efficiency component (latencies at or above the baseline contribute
// zero efficiency).
type Weights struct {
	EfficiencyWeight  float64
	QualityWeight     float64
	NoveltyWeight     float64
	LatencyBaselineMs time.Duration
	MaxInsightLength  int
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BaseReward derives the base reward from the outcome alone: Success
// = 1.0, PartialSuccess = completed/(completed+failed) (0.5 if both
// empty), Failure = 0.0, no outcome = 0.0.
func BaseReward(outcome *model.TaskOutcome) float64 {
	if outcome == nil {
		return 0.0
	}
	switch outcome.Kind {
	case model.OutcomeSuccess:
		return 1.0
	case model.OutcomePartialSuccess:
		total := len(outcome.Completed) + len(outcome.Failed)
		if total == 0 {
			return 0.5
		}
		return float64(len(outcome.Completed)) / float64(total)
	default:
		return 0.0
	}
}

// Score computes the full composite RewardScore for a completed
// episode. seenTools is the set of tool names observed in prior
// episodes (used to measure novelty); it is not mutated.
func Score(ep *model.Episode, seenTools map[string]bool, w Weights) *model.RewardScore {
	base := BaseReward(ep.Outcome)
	efficiency := efficiencyComponent(ep.Steps, w.LatencyBaselineMs)
	quality := qualityComponent(ep.Steps)
	novelty := noveltyComponent(ep.Steps, seenTools)

	total := clamp01(base*(1-w.EfficiencyWeight-w.QualityWeight-w.NoveltyWeight) +
		efficiency*w.EfficiencyWeight + quality*w.QualityWeight + novelty*w.NoveltyWeight)

	return &model.RewardScore{
		Base:       base,
		Efficiency: efficiency,
		Quality:    quality,
		Novelty:    novelty,
		Total:      total,
	}
}

func efficiencyComponent(steps []model.ExecutionStep, baseline time.Duration) float64 {
	if len(steps) == 0 {
		return 0
	}
	var totalMs int64
	for _, s := range steps {
		totalMs += s.LatencyMs
	}
	avgMs := float64(totalMs) / float64(len(steps))
	baselineMs := float64(baseline.Milliseconds())
	if baselineMs <= 0 {
		return 0
	}
	return clamp01(1 - avgMs/baselineMs)
}

func qualityComponent(steps []model.ExecutionStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	successes := 0
	for _, s := range steps {
		if s.Result != nil && s.Result.Kind == model.StepSuccess {
			successes++
		}
	}
	return clamp01(float64(successes) / float64(len(steps)))
}

func noveltyComponent(steps []model.ExecutionStep, seenTools map[string]bool) float64 {
	if len(steps) == 0 {
		return 0
	}
	novel := 0
	seenThisEpisode := make(map[string]bool)
	for _, s := range steps {
		if seenThisEpisode[s.ToolName] {
			continue
		}
		seenThisEpisode[s.ToolName] = true
		if seenTools == nil || !seenTools[s.ToolName] {
			novel++
		}
	}
	return clamp01(float64(novel) / float64(len(seenThisEpisode)))
}

// Reflect generates a bounded-length textual reflection by inspecting
// the episode's steps: unique tool count, average latency, whether
// error recovery occurred, and whether iterative refinement occurred
// (two or more error-to-success transitions).
func Reflect(ep *model.Episode, w Weights) *model.Reflection {
	tools := make(map[string]bool)
	var totalMs int64
	recovered := false
	transitions := 0
	prevWasError := false

	for _, s := range ep.Steps {
		tools[s.ToolName] = true
		totalMs += s.LatencyMs
		isError := s.Result != nil && s.Result.Kind == model.StepError
		isSuccess := s.Result != nil && s.Result.Kind == model.StepSuccess
		if prevWasError && isSuccess {
			recovered = true
			transitions++
		}
		prevWasError = isError
	}

	avgMs := int64(0)
	if len(ep.Steps) > 0 {
		avgMs = totalMs / int64(len(ep.Steps))
	}

	insights := []string{
		bound(fmt.Sprintf("used %d distinct tools across %d steps", len(tools), len(ep.Steps)), w.MaxInsightLength),
		bound(fmt.Sprintf("average step latency %dms", avgMs), w.MaxInsightLength),
	}
	if recovered {
		insights = append(insights, bound("recovered from at least one error", w.MaxInsightLength))
	}
	if transitions >= 2 {
		insights = append(insights, bound("iteratively refined through repeated error recovery", w.MaxInsightLength))
	}

	return &model.Reflection{
		Insights:      insights,
		WhatWorked:    whatWorked(ep),
		WhatFailed:    whatFailed(ep),
		Improvements:  improvements(recovered, transitions),
	}
}

func whatWorked(ep *model.Episode) []string {
	var out []string
	for _, s := range ep.Steps {
		if s.Result != nil && s.Result.Kind == model.StepSuccess {
			out = append(out, s.ToolName+": "+s.Action)
		}
	}
	return out
}

func whatFailed(ep *model.Episode) []string {
	var out []string
	for _, s := range ep.Steps {
		if s.Result != nil && s.Result.Kind == model.StepError {
			out = append(out, s.ToolName+": "+s.Result.Message)
		}
	}
	return out
}

func improvements(recovered bool, transitions int) []string {
	if transitions >= 2 {
		return []string{"consider reducing retry cycles by validating inputs before tool invocation"}
	}
	if recovered {
		return []string{"error recovery succeeded once; monitor for recurrence"}
	}
	return nil
}

func bound(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
