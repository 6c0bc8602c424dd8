// Package sync composes two storage.Backend instances — a durable
// backend and a local cache — under a two-phase commit, and resolves
// conflicts between them when both hold a copy of the same entity.
package sync

import (
	"context"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/logging"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/storage"
)

// Policy selects how conflicting durable/cache copies of an entity are
// resolved.
type Policy string

const (
	PolicyDurableWins Policy = "durable_wins"
	PolicyCacheWins   Policy = "cache_wins"
	PolicyMostRecent  Policy = "most_recent"
)

// Engine writes cache-first, durable-second under a two-phase commit:
// phase 1 writes the cache, phase 2 writes the durable backend. A
// commit is complete only when both phases succeed; on phase-2 failure
// the phase-1 write is rolled back where possible. Writes are
// serialized per entity id so two commits for the same id never race.
type Engine struct {
	durable storage.Backend
	cache   storage.Backend
	logger  logging.Logger
	policy  Policy

	locks *keyLocks
}

// Config controls the sync engine's conflict policy.
type Config struct {
	Policy Policy
	Logger logging.Logger
}

func New(durable, cache storage.Backend, cfg Config) *Engine {
	if cfg.Policy == "" {
		cfg.Policy = PolicyDurableWins
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Engine{
		durable: durable,
		cache:   cache,
		logger:  cfg.Logger.WithComponent("epimem/sync"),
		policy:  cfg.Policy,
		locks:   newKeyLocks(),
	}
}

// CommitEpisode runs the two-phase commit for a single episode:
// cache write (phase 1), then durable write (phase 2). On phase-2
// failure it attempts to roll back phase 1 by deleting the cache copy
// (best-effort — a rollback failure is logged, never escalated, since
// the entity is absent from durable and will be re-synced or
// overwritten on retry).
func (e *Engine) CommitEpisode(ctx context.Context, ep *model.Episode) error {
	unlock := e.locks.lock(ep.EpisodeID)
	defer unlock()

	if err := e.cache.StoreEpisode(ctx, ep); err != nil {
		return epierrors.New("sync.CommitEpisode", epierrors.KindStorage, ep.EpisodeID, err)
	}
	if err := e.durable.StoreEpisode(ctx, ep); err != nil {
		if rbErr := e.cache.DeleteEpisode(ctx, ep.EpisodeID); rbErr != nil && !epierrors.IsNotFound(rbErr) {
			e.logger.ErrorWithContext(ctx, "rollback of cache phase after durable failure did not complete", map[string]interface{}{
				"episode_id": ep.EpisodeID,
				"error":      rbErr.Error(),
			})
		}
		return epierrors.New("sync.CommitEpisode", epierrors.KindStorage, ep.EpisodeID, err)
	}
	return nil
}

func (e *Engine) CommitPattern(ctx context.Context, p *model.Pattern) error {
	unlock := e.locks.lock(p.ID)
	defer unlock()

	if err := e.cache.StorePattern(ctx, p); err != nil {
		return epierrors.New("sync.CommitPattern", epierrors.KindStorage, p.ID, err)
	}
	if err := e.durable.StorePattern(ctx, p); err != nil {
		if rbErr := e.cache.DeletePattern(ctx, p.ID); rbErr != nil && !epierrors.IsNotFound(rbErr) {
			e.logger.ErrorWithContext(ctx, "rollback of cache phase after durable failure did not complete", map[string]interface{}{
				"pattern_id": p.ID,
				"error":      rbErr.Error(),
			})
		}
		return epierrors.New("sync.CommitPattern", epierrors.KindStorage, p.ID, err)
	}
	return nil
}

// RemoveEpisode deletes an episode from both backends. Unlike
// CommitEpisode's two-phase commit, deletion has no rollback step —
// both sides are removed best-effort and a failure on either is
// surfaced, matching the episode lifecycle's delete_episode operation
// (spec.md §4.3). Idempotent: a second delete of the same id returns
// KindNotFound rather than success, since neither backend held it.
func (e *Engine) RemoveEpisode(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	cacheErr := e.cache.DeleteEpisode(ctx, id)
	if cacheErr != nil && !epierrors.IsNotFound(cacheErr) {
		return epierrors.New("sync.RemoveEpisode", epierrors.KindStorage, id, cacheErr)
	}
	durableErr := e.durable.DeleteEpisode(ctx, id)
	if durableErr != nil && !epierrors.IsNotFound(durableErr) {
		return epierrors.New("sync.RemoveEpisode", epierrors.KindStorage, id, durableErr)
	}
	if cacheErr != nil && durableErr != nil {
		return epierrors.New("sync.RemoveEpisode", epierrors.KindNotFound, id, epierrors.ErrNotFound)
	}
	return nil
}

func (e *Engine) CommitHeuristic(ctx context.Context, h *model.Heuristic) error {
	unlock := e.locks.lock(h.ID)
	defer unlock()

	if err := e.cache.StoreHeuristic(ctx, h); err != nil {
		return epierrors.New("sync.CommitHeuristic", epierrors.KindStorage, h.ID, err)
	}
	if err := e.durable.StoreHeuristic(ctx, h); err != nil {
		// no DeleteHeuristic in the Backend contract (heuristics are
		// append/update-only per spec.md §4.10); leave the cache copy
		// in place and surface the failure as retryable.
		return epierrors.New("sync.CommitHeuristic", epierrors.KindStorage, h.ID, err)
	}
	return nil
}

// ReadEpisode consults the cache first; on miss it loads from durable
// and backfills the cache.
func (e *Engine) ReadEpisode(ctx context.Context, id string) (*model.Episode, error) {
	ep, err := e.cache.GetEpisode(ctx, id)
	if err == nil {
		return ep, nil
	}
	if !epierrors.IsNotFound(err) {
		return nil, err
	}
	ep, err = e.durable.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	if bfErr := e.cache.StoreEpisode(ctx, ep); bfErr != nil {
		e.logger.WarnWithContext(ctx, "cache backfill failed after durable read", map[string]interface{}{
			"episode_id": id,
			"error":      bfErr.Error(),
		})
	}
	return ep, nil
}

// ReadHeuristic consults the cache first; on miss it loads from
// durable and backfills the cache, mirroring ReadEpisode.
func (e *Engine) ReadHeuristic(ctx context.Context, id string) (*model.Heuristic, error) {
	h, err := e.cache.GetHeuristic(ctx, id)
	if err == nil {
		return h, nil
	}
	if !epierrors.IsNotFound(err) {
		return nil, err
	}
	h, err = e.durable.GetHeuristic(ctx, id)
	if err != nil {
		return nil, err
	}
	if bfErr := e.cache.StoreHeuristic(ctx, h); bfErr != nil {
		e.logger.WarnWithContext(ctx, "cache backfill failed after durable read", map[string]interface{}{
			"heuristic_id": id,
			"error":        bfErr.Error(),
		})
	}
	return h, nil
}

// ListPatterns passes through to the durable backend (used by the
// learning orchestrator's periodic decay pass).
func (e *Engine) ListPatterns(ctx context.Context, limit int) ([]*model.Pattern, error) {
	return e.durable.ListPatterns(ctx, limit)
}

// RemovePattern deletes a pattern from both backends. Used by the
// decay pass to drop patterns whose effectiveness has fallen below the
// retain threshold. Idempotent, mirroring RemoveEpisode: a repeat
// delete returns KindNotFound.
func (e *Engine) RemovePattern(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	cacheErr := e.cache.DeletePattern(ctx, id)
	if cacheErr != nil && !epierrors.IsNotFound(cacheErr) {
		return epierrors.New("sync.RemovePattern", epierrors.KindStorage, id, cacheErr)
	}
	durableErr := e.durable.DeletePattern(ctx, id)
	if durableErr != nil && !epierrors.IsNotFound(durableErr) {
		return epierrors.New("sync.RemovePattern", epierrors.KindStorage, id, durableErr)
	}
	if cacheErr != nil && durableErr != nil {
		return epierrors.New("sync.RemovePattern", epierrors.KindNotFound, id, epierrors.ErrNotFound)
	}
	return nil
}

// ListHeuristics passes through to the durable backend, since
// heuristics have no cache-vs-durable conflict surface worth
// resolving for a bulk scan (used by the learning orchestrator to find
// a merge candidate by condition+action).
func (e *Engine) ListHeuristics(ctx context.Context, limit int) ([]*model.Heuristic, error) {
	return e.durable.ListHeuristics(ctx, limit)
}

// reconcileScanLimit bounds a single reconciliation pass's per-entity
// scan, mirroring learning.Orchestrator's decayScanLimit.
const reconcileScanLimit = 5000

// Reconcile is C12's periodic reconciliation pass (spec.md §4.12):
// it compares every episode updated since `since` across both
// backends, resolves any divergence per the configured Policy, and
// re-commits the winner to both sides so they converge. A backend that
// is missing an id the other holds gets backfilled directly. Returns
// the episodes whose divergence was resolved (not simple backfills),
// so a caller (memory.Engine) can re-insert them into the
// spatiotemporal index — spec.md §4.5's "the index is updated... by
// the Sync engine during reconciliation".
func (e *Engine) Reconcile(ctx context.Context, since time.Time) ([]*model.Episode, error) {
	durableEpisodes, err := e.durable.QueryEpisodesSince(ctx, since, reconcileScanLimit)
	if err != nil {
		return nil, err
	}
	cacheEpisodes, err := e.cache.QueryEpisodesSince(ctx, since, reconcileScanLimit)
	if err != nil {
		return nil, err
	}

	durableByID := make(map[string]*model.Episode, len(durableEpisodes))
	for _, ep := range durableEpisodes {
		durableByID[ep.EpisodeID] = ep
	}
	cacheByID := make(map[string]*model.Episode, len(cacheEpisodes))
	for _, ep := range cacheEpisodes {
		cacheByID[ep.EpisodeID] = ep
	}

	var resolved []*model.Episode
	for id, d := range durableByID {
		c, inCache := cacheByID[id]
		if !inCache {
			if err := e.cache.StoreEpisode(ctx, d); err != nil {
				e.logger.WarnWithContext(ctx, "reconciliation cache backfill failed", map[string]interface{}{
					"episode_id": id, "error": err.Error(),
				})
			}
			continue
		}
		winner := e.ResolveEpisode(d, c)
		if err := e.CommitEpisode(ctx, winner); err != nil {
			e.logger.WarnWithContext(ctx, "reconciliation commit failed", map[string]interface{}{
				"episode_id": id, "error": err.Error(),
			})
			continue
		}
		resolved = append(resolved, winner)
	}
	for id, c := range cacheByID {
		if _, inDurable := durableByID[id]; inDurable {
			continue
		}
		if err := e.durable.StoreEpisode(ctx, c); err != nil {
			e.logger.WarnWithContext(ctx, "reconciliation durable backfill failed", map[string]interface{}{
				"episode_id": id, "error": err.Error(),
			})
		}
	}
	return resolved, nil
}

// ReconcilePatterns mirrors Reconcile for patterns: every pattern the
// durable backend holds is compared against its cache copy (when one
// exists) and the winner re-committed to both sides.
func (e *Engine) ReconcilePatterns(ctx context.Context) error {
	durablePatterns, err := e.durable.ListPatterns(ctx, reconcileScanLimit)
	if err != nil {
		return err
	}
	cachePatterns, err := e.cache.ListPatterns(ctx, reconcileScanLimit)
	if err != nil {
		return err
	}
	cacheByID := make(map[string]*model.Pattern, len(cachePatterns))
	for _, p := range cachePatterns {
		cacheByID[p.ID] = p
	}
	for _, d := range durablePatterns {
		c, inCache := cacheByID[d.ID]
		if !inCache {
			if err := e.cache.StorePattern(ctx, d); err != nil {
				e.logger.WarnWithContext(ctx, "pattern reconciliation cache backfill failed", map[string]interface{}{
					"pattern_id": d.ID, "error": err.Error(),
				})
			}
			continue
		}
		winner := e.ResolvePattern(d, c)
		if err := e.CommitPattern(ctx, winner); err != nil {
			e.logger.WarnWithContext(ctx, "pattern reconciliation commit failed", map[string]interface{}{
				"pattern_id": d.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

// ReconcileHeuristics mirrors Reconcile for heuristics.
func (e *Engine) ReconcileHeuristics(ctx context.Context) error {
	durableHeuristics, err := e.durable.ListHeuristics(ctx, reconcileScanLimit)
	if err != nil {
		return err
	}
	cacheHeuristics, err := e.cache.ListHeuristics(ctx, reconcileScanLimit)
	if err != nil {
		return err
	}
	cacheByID := make(map[string]*model.Heuristic, len(cacheHeuristics))
	for _, h := range cacheHeuristics {
		cacheByID[h.ID] = h
	}
	for _, d := range durableHeuristics {
		c, inCache := cacheByID[d.ID]
		if !inCache {
			if err := e.cache.StoreHeuristic(ctx, d); err != nil {
				e.logger.WarnWithContext(ctx, "heuristic reconciliation cache backfill failed", map[string]interface{}{
					"heuristic_id": d.ID, "error": err.Error(),
				})
			}
			continue
		}
		winner := e.ResolveHeuristic(d, c)
		if err := e.CommitHeuristic(ctx, winner); err != nil {
			e.logger.WarnWithContext(ctx, "heuristic reconciliation commit failed", map[string]interface{}{
				"heuristic_id": d.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

// ResolveEpisode picks between two copies of the same episode per the
// configured policy.
func (e *Engine) ResolveEpisode(durable, cache *model.Episode) *model.Episode {
	switch e.policy {
	case PolicyCacheWins:
		return cache
	case PolicyMostRecent:
		if episodeTimestamp(durable).After(episodeTimestamp(cache)) {
			return durable
		}
		return cache
	default:
		return durable
	}
}

func episodeTimestamp(ep *model.Episode) time.Time {
	if ep.EndTime != nil {
		return *ep.EndTime
	}
	return ep.StartTime
}

// ResolvePattern picks between two copies of the same pattern per the
// configured policy, comparing success_rate for MostRecent.
func (e *Engine) ResolvePattern(durable, cache *model.Pattern) *model.Pattern {
	switch e.policy {
	case PolicyCacheWins:
		return cache
	case PolicyMostRecent:
		if durable.SuccessRate > cache.SuccessRate {
			return durable
		}
		return cache
	default:
		return durable
	}
}

// ResolveHeuristic picks between two copies of the same heuristic per
// the configured policy, comparing updated_at for MostRecent.
func (e *Engine) ResolveHeuristic(durable, cache *model.Heuristic) *model.Heuristic {
	switch e.policy {
	case PolicyCacheWins:
		return cache
	case PolicyMostRecent:
		if durable.UpdatedAt.After(cache.UpdatedAt) {
			return durable
		}
		return cache
	default:
		return durable
	}
}
