package patterns

import (
	"math"
	"sort"
	"strings"
	"time"
)

import "github.com/agentic-memory/epimem/model"

// Deduplicate collapses patterns whose similarity key (type +
// canonicalized content) matches, keeping the first occurrence and
// summing occurrence counts into it.
func Deduplicate(candidates []*model.Pattern) []*model.Pattern {
	seen := make(map[string]*model.Pattern)
	var order []string
	for _, p := range candidates {
		key := similarityKey(p)
		if existing, ok := seen[key]; ok {
			existing.OccurrenceCount += p.OccurrenceCount
			continue
		}
		seen[key] = p
		order = append(order, key)
	}
	out := make([]*model.Pattern, 0, len(order))
	for _, k := range order {
		out = append(out, seen[k])
	}
	return out
}

func similarityKey(p *model.Pattern) string {
	switch p.Kind {
	case model.PatternToolSequence:
		if p.ToolSequence != nil {
			return string(p.Kind) + ":" + strings.Join(p.ToolSequence.Tools, ",")
		}
	case model.PatternDecisionPoint:
		if p.Decision != nil {
			return string(p.Kind) + ":" + p.Decision.Condition
		}
	case model.PatternErrorRecovery:
		if p.Recovery != nil {
			return string(p.Kind) + ":" + p.Recovery.ErrorType
		}
	case model.PatternContextPattern:
		if p.ContextPat != nil {
			return string(p.Kind) + ":" + strings.Join(p.ContextPat.ContextFeatures, ",")
		}
	}
	return string(p.Kind) + ":" + p.ID
}

// Cluster merges within-type patterns that overlap on content or
// condition, then deduplicates and sorts the result. Tool-sequence
// patterns merge when they share at least half their tools; decision
// points merge on exact condition match (handled already by
// Deduplicate's key); this pass adds the coarser tool-overlap merge
// Deduplicate's exact-key match misses.
func Cluster(candidates []*model.Pattern) []*model.Pattern {
	var sequences, rest []*model.Pattern
	for _, p := range candidates {
		if p.Kind == model.PatternToolSequence {
			sequences = append(sequences, p)
		} else {
			rest = append(rest, p)
		}
	}

	merged := mergeOverlappingSequences(sequences)
	out := append(merged, rest...)
	return Deduplicate(out)
}

func mergeOverlappingSequences(patterns []*model.Pattern) []*model.Pattern {
	var out []*model.Pattern
	used := make([]bool, len(patterns))
	for i, p := range patterns {
		if used[i] {
			continue
		}
		for j := i + 1; j < len(patterns); j++ {
			if used[j] {
				continue
			}
			if toolOverlap(p.ToolSequence.Tools, patterns[j].ToolSequence.Tools) >= 0.5 {
				p.OccurrenceCount += patterns[j].OccurrenceCount
				p.SuccessRate = (p.SuccessRate + patterns[j].SuccessRate) / 2
				used[j] = true
			}
		}
		out = append(out, p)
	}
	return out
}

func toolOverlap(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	shared := 0
	for _, t := range b {
		if setA[t] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	if smaller == 0 {
		return 0
	}
	return float64(shared) / float64(smaller)
}

// Rank sorts patterns by composite score: success_rate*100 +
// sample_size_bonus + context_relevance*100 + type-specific bonus.
// contextRelevance scores a pattern's context against a reference
// context (e.g. the current query's context) in [0,1].
func Rank(candidates []*model.Pattern, contextRelevance func(*model.Pattern) float64) []*model.Pattern {
	scored := make([]*model.Pattern, len(candidates))
	copy(scored, candidates)
	sort.SliceStable(scored, func(i, j int) bool {
		return compositeScore(scored[i], contextRelevance) > compositeScore(scored[j], contextRelevance)
	})
	return scored
}

func compositeScore(p *model.Pattern, contextRelevance func(*model.Pattern) float64) float64 {
	sampleBonus := math.Min(float64(p.OccurrenceCount), 10) * 2
	relevance := 0.0
	if contextRelevance != nil {
		relevance = contextRelevance(p)
	}
	typeBonus := 0.0
	if p.Kind == model.PatternErrorRecovery {
		typeBonus = 5
	}
	return p.SuccessRate*100 + sampleBonus + relevance*100 + typeBonus
}

// Qualifies reports whether a pattern meets the persistence bar:
// confidence (success_rate here) at or above the configured minimum,
// and if strict, sample size at or above the strict minimum.
func Qualifies(p *model.Pattern, cfg Config, strict bool) bool {
	cfg.applyDefaults()
	threshold := cfg.ConfidenceMin
	if strict {
		threshold = cfg.ConfidenceStrict
		if p.OccurrenceCount < cfg.MinSampleStrict {
			return false
		}
	}
	return p.SuccessRate >= threshold
}

// DecayConfig controls the background/on-demand decay pass.
type DecayConfig struct {
	Lambda          float64
	RetainThreshold float64
	PinThreshold    float64
}

// Decay multiplies each pattern's success_rate by exp(-lambda*age_days)
// and drops those falling below RetainThreshold, unless force is false
// and the pattern's current success_rate is already at or above
// PinThreshold: such pinned patterns are returned unchanged, neither
// decayed nor dropped.
func Decay(candidates []*model.Pattern, now time.Time, cfg DecayConfig, force bool) []*model.Pattern {
	var out []*model.Pattern
	for _, p := range candidates {
		if !force && p.SuccessRate >= cfg.PinThreshold {
			out = append(out, p)
			continue
		}
		ageDays := now.Sub(p.UpdatedAt).Hours() / 24
		decayed := p.SuccessRate * math.Exp(-cfg.Lambda*ageDays)
		if decayed < cfg.RetainThreshold {
			continue
		}
		p.SuccessRate = decayed
		out = append(out, p)
	}
	return out
}
