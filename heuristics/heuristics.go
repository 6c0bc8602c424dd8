// Package heuristics derives condition-action rules from confident
// decision-point patterns and ranks them for retrieval (spec.md
// §4.10, C10).
package heuristics

import (
	"sort"

	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/patterns"
)

// Config tunes the confidence gate applied before a decision-point
// pattern is promoted into a heuristic.
type Config struct {
	ConfidenceMin   float64
	MinSampleStrict int
	Strict          bool
}

func (c *Config) applyDefaults() {
	if c.ConfidenceMin == 0 {
		c.ConfidenceMin = 0.70
	}
	if c.MinSampleStrict == 0 {
		c.MinSampleStrict = 5
	}
}

// Extract promotes each decision-point pattern meeting the confidence
// gate into a heuristic: condition and action copied verbatim,
// confidence = pattern.success_rate, evidence populated from the
// pattern's occurrence count and episode id (when known).
func Extract(decisionPatterns []*model.Pattern, episodeID string, cfg Config) []*model.Heuristic {
	cfg.applyDefaults()
	var out []*model.Heuristic
	for _, p := range decisionPatterns {
		if p.Kind != model.PatternDecisionPoint || p.Decision == nil {
			continue
		}
		if !patterns.Qualifies(p, patterns.Config{ConfidenceMin: cfg.ConfidenceMin, MinSampleStrict: cfg.MinSampleStrict}, cfg.Strict) {
			continue
		}
		evidence := model.HeuristicEvidence{
			SuccessRate: p.SuccessRate,
			SampleSize:  p.OccurrenceCount,
		}
		if episodeID != "" {
			evidence.EpisodeIDs = []string{episodeID}
		}
		out = append(out, &model.Heuristic{
			Condition:  p.Decision.Condition,
			Action:     p.Decision.Action,
			Confidence: p.SuccessRate,
			Evidence:   evidence,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.UpdatedAt,
		})
	}
	return out
}

// Merge combines a newly extracted heuristic into an existing one for
// the same condition+action pair: evidence accumulates (episode ids
// deduped, sample size summed), confidence becomes the evidence-backed
// success rate recomputed as a weighted average by sample size.
func Merge(existing, incoming *model.Heuristic) *model.Heuristic {
	totalSamples := existing.Evidence.SampleSize + incoming.Evidence.SampleSize
	blended := existing.Confidence
	if totalSamples > 0 {
		blended = (existing.Confidence*float64(existing.Evidence.SampleSize) +
			incoming.Confidence*float64(incoming.Evidence.SampleSize)) / float64(totalSamples)
	}

	ids := make(map[string]bool)
	var merged []string
	for _, id := range append(append([]string{}, existing.Evidence.EpisodeIDs...), incoming.Evidence.EpisodeIDs...) {
		if id == "" || ids[id] {
			continue
		}
		ids[id] = true
		merged = append(merged, id)
	}

	existing.Confidence = blended
	existing.Evidence = model.HeuristicEvidence{
		EpisodeIDs:  merged,
		SuccessRate: blended,
		SampleSize:  totalSamples,
	}
	existing.UpdatedAt = incoming.UpdatedAt
	return existing
}

// ContextRelevance scores how well a heuristic's condition matches a
// query context: domain match +1.0, language match +0.8, framework
// match +0.5, and +0.3 per overlapping tag. Condition strings are the
// "domain+language+action" triples produced by the decision-point
// extractor, so matching degrades to substring containment.
func ContextRelevance(h *model.Heuristic, ctx model.Context) float64 {
	score := 0.0
	if ctx.Domain != "" && contains(h.Condition, ctx.Domain) {
		score += 1.0
	}
	if ctx.Language != "" && contains(h.Condition, ctx.Language) {
		score += 0.8
	}
	if ctx.Framework != "" && contains(h.Condition, ctx.Framework) {
		score += 0.5
	}
	for _, tag := range ctx.Tags {
		if contains(h.Condition, tag) {
			score += 0.3
		}
	}
	return score
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// Rank orders heuristics by confidence * context_relevance descending.
func Rank(hs []*model.Heuristic, ctx model.Context) []*model.Heuristic {
	out := make([]*model.Heuristic, len(hs))
	copy(out, hs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence*ContextRelevance(out[i], ctx) > out[j].Confidence*ContextRelevance(out[j], ctx)
	})
	return out
}
