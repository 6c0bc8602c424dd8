// Package patterns implements the four pattern extractors and the
// dedup/cluster/rank/decay post-processing pipeline that runs on
// episode completion (spec.md §4.8, C8).
package patterns

import (
	"strings"
	"time"

	"github.com/agentic-memory/epimem/model"
)

// Config tunes extractor thresholds and sequence bounds.
type Config struct {
	ToolSequenceSuccessThreshold float64
	ToolSequenceMinLen           int
	ToolSequenceMaxLen           int
	ConfidenceMin                float64
	ConfidenceStrict             float64
	MinSampleStrict              int
}

func (c *Config) applyDefaults() {
	if c.ToolSequenceSuccessThreshold == 0 {
		c.ToolSequenceSuccessThreshold = 0.7
	}
	if c.ToolSequenceMinLen == 0 {
		c.ToolSequenceMinLen = 2
	}
	if c.ToolSequenceMaxLen == 0 {
		c.ToolSequenceMaxLen = 10
	}
	if c.ConfidenceMin == 0 {
		c.ConfidenceMin = 0.70
	}
	if c.ConfidenceStrict == 0 {
		c.ConfidenceStrict = 0.85
	}
	if c.MinSampleStrict == 0 {
		c.MinSampleStrict = 5
	}
}

var decisionKeywords = []string{"if", "when", "check", "verify", "validate", "ensure", "decide", "determine"}

// ExtractAll runs all four extractors over a completed episode and
// returns their combined, not-yet-deduplicated pattern candidates.
func ExtractAll(ep *model.Episode, cfg Config) []*model.Pattern {
	cfg.applyDefaults()
	var out []*model.Pattern
	out = append(out, extractToolSequence(ep, cfg)...)
	out = append(out, extractDecisionPoints(ep, cfg)...)
	out = append(out, extractErrorRecovery(ep, cfg)...)
	if cp := extractContextPattern(ep); cp != nil {
		out = append(out, cp)
	}
	return out
}

func extractToolSequence(ep *model.Episode, cfg Config) []*model.Pattern {
	if len(ep.Steps) < cfg.ToolSequenceMinLen || len(ep.Steps) > cfg.ToolSequenceMaxLen {
		return nil
	}
	tools := make([]string, 0, len(ep.Steps))
	successes := 0
	var totalLatency time.Duration
	for _, s := range ep.Steps {
		tools = append(tools, s.ToolName)
		if s.Result != nil && s.Result.Kind == model.StepSuccess {
			successes++
		}
		totalLatency += time.Duration(s.LatencyMs) * time.Millisecond
	}
	successRate := float64(successes) / float64(len(ep.Steps))
	if successRate < cfg.ToolSequenceSuccessThreshold {
		return nil
	}

	now := time.Now()
	return []*model.Pattern{{
		Kind:            model.PatternToolSequence,
		OccurrenceCount: 1,
		SuccessRate:     successRate,
		Context:         ep.Context,
		CreatedAt:       now,
		UpdatedAt:       now,
		ToolSequence: &model.ToolSequencePayload{
			Tools:      tools,
			AvgLatency: totalLatency / time.Duration(len(ep.Steps)),
		},
	}}
}

func extractDecisionPoints(ep *model.Episode, cfg Config) []*model.Pattern {
	var out []*model.Pattern
	now := time.Now()
	for i, s := range ep.Steps {
		if !containsDecisionKeyword(s.Action) {
			continue
		}
		action := s.ToolName + ": " + s.Action
		if i+1 < len(ep.Steps) {
			next := ep.Steps[i+1]
			action = next.ToolName + ": " + next.Action
		}
		success := 0
		if s.Result != nil && s.Result.Kind == model.StepSuccess {
			success = 1
		}
		out = append(out, &model.Pattern{
			Kind:            model.PatternDecisionPoint,
			OccurrenceCount: 1,
			SuccessRate:     float64(success),
			Context:         ep.Context,
			CreatedAt:       now,
			UpdatedAt:       now,
			Decision: &model.DecisionPointPayload{
				Condition: ep.Context.Domain + "+" + ep.Context.Language + "+" + s.Action,
				Action:    action,
				Outcome:   model.OutcomeStats{SuccessCount: success, TotalCount: 1},
			},
		})
	}
	return out
}

func containsDecisionKeyword(action string) bool {
	lower := strings.ToLower(action)
	for _, kw := range decisionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractErrorRecovery(ep *model.Episode, cfg Config) []*model.Pattern {
	var out []*model.Pattern
	now := time.Now()
	for i, s := range ep.Steps {
		if s.Result == nil || s.Result.Kind != model.StepError {
			continue
		}
		// Single-step recovery: error immediately followed by success.
		if i+1 < len(ep.Steps) && isSuccess(ep.Steps[i+1]) {
			out = append(out, newRecoveryPattern(ep, now, s.Result.Message, []string{ep.Steps[i+1].ToolName + ": " + ep.Steps[i+1].Action}))
		}
		// Multi-step recovery: error followed by 2-3 successes.
		run := collectSuccessRun(ep.Steps, i+1, 3)
		if len(run) >= 2 {
			var steps []string
			for _, st := range run {
				steps = append(steps, st.ToolName+": "+st.Action)
			}
			out = append(out, newRecoveryPattern(ep, now, s.Result.Message, steps))
		}
	}
	return out
}

func isSuccess(s model.ExecutionStep) bool {
	return s.Result != nil && s.Result.Kind == model.StepSuccess
}

func collectSuccessRun(steps []model.ExecutionStep, start, max int) []model.ExecutionStep {
	var run []model.ExecutionStep
	for i := start; i < len(steps) && len(run) < max; i++ {
		if !isSuccess(steps[i]) {
			break
		}
		run = append(run, steps[i])
	}
	return run
}

func newRecoveryPattern(ep *model.Episode, now time.Time, errType string, steps []string) *model.Pattern {
	return &model.Pattern{
		Kind:            model.PatternErrorRecovery,
		OccurrenceCount: 1,
		SuccessRate:     1.0,
		Context:         ep.Context,
		CreatedAt:       now,
		UpdatedAt:       now,
		Recovery: &model.ErrorRecoveryPayload{
			ErrorType:     errType,
			RecoverySteps: steps,
		},
	}
}

func extractContextPattern(ep *model.Episode) *model.Pattern {
	features := []string{"domain:" + ep.Context.Domain}
	if ep.Context.Language != "" {
		features = append(features, "language:"+ep.Context.Language)
	}
	if ep.Context.Framework != "" {
		features = append(features, "framework:"+ep.Context.Framework)
	}
	features = append(features, "complexity:"+string(ep.Context.Complexity))

	var evidence []string
	if ep.Reflection != nil {
		evidence = ep.Reflection.Insights
	}

	successRate := successRateFromReward(ep)
	now := time.Now()
	return &model.Pattern{
		Kind:            model.PatternContextPattern,
		OccurrenceCount: 1,
		SuccessRate:     successRate,
		Context:         ep.Context,
		CreatedAt:       now,
		UpdatedAt:       now,
		ContextPat: &model.ContextPatternPayload{
			ContextFeatures:     features,
			RecommendedApproach: recommendedApproach(ep),
			Evidence:            evidence,
		},
	}
}

func successRateFromReward(ep *model.Episode) float64 {
	if ep.Reward != nil {
		return ep.Reward.Total
	}
	return 0
}

func recommendedApproach(ep *model.Episode) string {
	if len(ep.Steps) == 0 {
		return ""
	}
	return "use " + ep.Steps[0].ToolName + " first for " + ep.Context.Domain + " tasks"
}
