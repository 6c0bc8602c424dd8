// Package learning implements the learning orchestrator (spec.md
// §4.11, C11): a bounded async queue that, for each completed episode,
// runs pattern extraction, heuristic promotion, and persistence, then
// fires query-cache invalidation. One failing stage never blocks the
// others.
package learning

import (
	"context"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/heuristics"
	"github.com/agentic-memory/epimem/logging"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/patterns"
	"github.com/agentic-memory/epimem/querycache"
	syncengine "github.com/agentic-memory/epimem/sync"
)

// Config bounds the orchestrator's queue, worker pool, and the
// thresholds its extraction stages apply.
type Config struct {
	QueueSize       int
	Workers         int
	EnqueueDeadline time.Duration
	Patterns        patterns.Config
	Heuristics      heuristics.Config
	Decay           patterns.DecayConfig
	Logger          logging.Logger
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.Workers < 0 {
		c.Workers = 4
	}
	if c.EnqueueDeadline <= 0 {
		c.EnqueueDeadline = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.NoOpLogger{}
	}
}

// Orchestrator owns the async job queue and worker pool. Enqueue is
// called by episode.Lifecycle on completion; the workers run the
// extractor pipeline in the background.
type Orchestrator struct {
	cfg    Config
	sync   *syncengine.Engine
	cache  *querycache.Cache
	logger logging.Logger

	jobs   chan *model.Episode
	done   chan struct{}
}

// New builds an Orchestrator and starts its worker pool. Stop drains
// the queue and waits for in-flight jobs to finish.
func New(sync *syncengine.Engine, cache *querycache.Cache, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:    cfg,
		sync:   sync,
		cache:  cache,
		logger: cfg.Logger.WithComponent("epimem/learning"),
		jobs:   make(chan *model.Episode, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		go o.worker()
	}
	return o
}

// Enqueue submits a completed episode for learning. If the queue is
// full it waits up to cfg.EnqueueDeadline before returning a
// retryable queue-full error (spec.md §4.11's back-pressure policy).
func (o *Orchestrator) Enqueue(ctx context.Context, ep *model.Episode) error {
	select {
	case o.jobs <- ep:
		return nil
	default:
	}

	timer := time.NewTimer(o.cfg.EnqueueDeadline)
	defer timer.Stop()
	select {
	case o.jobs <- ep:
		return nil
	case <-timer.C:
		return epierrors.New("learning.Enqueue", epierrors.KindRateLimitExceeded, ep.EpisodeID, epierrors.ErrRateLimitExceeded)
	case <-ctx.Done():
		return epierrors.New("learning.Enqueue", epierrors.KindExecutionTimeout, ep.EpisodeID, ctx.Err())
	}
}

// Stop closes the job queue; running workers drain remaining jobs and
// exit. It does not cancel in-flight extraction.
func (o *Orchestrator) Stop() {
	close(o.jobs)
	for i := 0; i < o.cfg.Workers; i++ {
		<-o.done
	}
}

func (o *Orchestrator) worker() {
	for ep := range o.jobs {
		o.process(ep)
	}
	o.done <- struct{}{}
}

// process runs every extraction stage for one episode, isolating
// failures: an error in one stage is logged and the remaining stages
// still run.
func (o *Orchestrator) process(ep *model.Episode) {
	ctx := context.Background()

	candidates := patterns.ExtractAll(ep, o.cfg.Patterns)
	candidates = patterns.Deduplicate(candidates)
	candidates = patterns.Cluster(candidates)
	candidates = patterns.Rank(candidates, func(p *model.Pattern) float64 {
		return contextOverlap(p.Context, ep.Context)
	})

	var decisionPatterns []*model.Pattern
	var patternIDs []string
	for _, p := range candidates {
		if !patterns.Qualifies(p, o.cfg.Patterns, false) {
			continue
		}
		if err := o.sync.CommitPattern(ctx, p); err != nil {
			o.logger.WarnWithContext(ctx, "failed to persist extracted pattern, continuing with remaining extractors", map[string]interface{}{
				"episode_id": ep.EpisodeID,
				"error":      err.Error(),
			})
			continue
		}
		patternIDs = append(patternIDs, p.ID)
		if p.Kind == model.PatternDecisionPoint {
			decisionPatterns = append(decisionPatterns, p)
		}
	}

	heuristicIDs := o.extractHeuristics(ctx, decisionPatterns, ep.EpisodeID)

	if len(patternIDs) > 0 || len(heuristicIDs) > 0 {
		ep.PatternIDs = append(ep.PatternIDs, patternIDs...)
		ep.HeuristicIDs = append(ep.HeuristicIDs, heuristicIDs...)
		if err := o.sync.CommitEpisode(ctx, ep); err != nil {
			o.logger.WarnWithContext(ctx, "failed to back-link patterns/heuristics onto episode", map[string]interface{}{
				"episode_id": ep.EpisodeID,
				"error":      err.Error(),
			})
		}
	}

	if o.cache != nil {
		o.cache.Invalidate(querycache.DepPatterns, querycache.DepHeuristics)
	}
}

func (o *Orchestrator) extractHeuristics(ctx context.Context, decisionPatterns []*model.Pattern, episodeID string) []string {
	extracted := heuristics.Extract(decisionPatterns, episodeID, o.cfg.Heuristics)
	var ids []string
	for _, h := range extracted {
		existing, err := o.findExistingHeuristic(ctx, h)
		if err == nil && existing != nil {
			h = heuristics.Merge(existing, h)
		}
		if err := o.sync.CommitHeuristic(ctx, h); err != nil {
			o.logger.WarnWithContext(ctx, "failed to persist extracted heuristic", map[string]interface{}{
				"episode_id": episodeID,
				"error":      err.Error(),
			})
			continue
		}
		ids = append(ids, h.ID)
	}
	return ids
}

// mergeScanLimit bounds how many recent heuristics findExistingHeuristic
// scans looking for a condition+action match. Heuristics have no
// dedicated lookup-by-condition index (spec.md §4.10 doesn't call for
// one), so this is a bounded linear scan rather than an indexed query.
const mergeScanLimit = 500

// findExistingHeuristic looks for a prior heuristic sharing the same
// condition+action pair to merge into. Returns nil, nil when none
// match (not an error).
func (o *Orchestrator) findExistingHeuristic(ctx context.Context, candidate *model.Heuristic) (*model.Heuristic, error) {
	all, err := o.sync.ListHeuristics(ctx, mergeScanLimit)
	if err != nil {
		return nil, err
	}
	for _, h := range all {
		if h.Condition == candidate.Condition && h.Action == candidate.Action {
			return h, nil
		}
	}
	return nil, nil
}

// decayScanLimit bounds a single decay pass's pattern scan.
const decayScanLimit = 5000

// RunDecayPass applies the pattern-decay multiplier (spec.md §4.8) to
// every stored pattern: success_rate *= exp(-lambda*age_days), with
// patterns falling below RetainThreshold removed from both backends
// unless pinned above PinThreshold. Intended to be called periodically
// (e.g. from a cron-style caller in cmd/epimemd), not per-episode.
func (o *Orchestrator) RunDecayPass(ctx context.Context) error {
	all, err := o.sync.ListPatterns(ctx, decayScanLimit)
	if err != nil {
		return err
	}

	survivors := patterns.Decay(all, time.Now(), o.cfg.Decay, false)
	survived := make(map[string]bool, len(survivors))
	for _, p := range survivors {
		survived[p.ID] = true
		if err := o.sync.CommitPattern(ctx, p); err != nil {
			o.logger.WarnWithContext(ctx, "failed to persist decayed pattern", map[string]interface{}{
				"pattern_id": p.ID,
				"error":      err.Error(),
			})
		}
	}
	for _, p := range all {
		if survived[p.ID] {
			continue
		}
		if err := o.sync.RemovePattern(ctx, p.ID); err != nil {
			o.logger.WarnWithContext(ctx, "failed to remove decayed-out pattern", map[string]interface{}{
				"pattern_id": p.ID,
				"error":      err.Error(),
			})
		}
	}
	if o.cache != nil {
		o.cache.Invalidate(querycache.DepPatterns)
	}
	return nil
}

func contextOverlap(a, b model.Context) float64 {
	score := 0.0
	if a.Domain != "" && a.Domain == b.Domain {
		score += 1.0
	}
	if a.Language != "" && a.Language == b.Language {
		score += 0.8
	}
	if a.Framework != "" && a.Framework == b.Framework {
		score += 0.5
	}
	return score
}
