// Package episode implements the episode lifecycle state machine
// (spec.md §4.3, C3): Open → Completed, with an optional Deleted
// terminal, composing the step buffer, the sync engine's two-phase
// commit, reward scoring/reflection, and the learning orchestrator
// handoff.
package episode

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/logging"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/querycache"
	"github.com/agentic-memory/epimem/reward"
	"github.com/agentic-memory/epimem/spatiotemporal"
	"github.com/agentic-memory/epimem/stepbuffer"
	syncengine "github.com/agentic-memory/epimem/sync"
)

// State names the three positions in the one-way Open → Completed
// (→ Deleted) state machine.
type State string

const (
	StateOpen      State = "open"
	StateCompleted State = "completed"
	StateDeleted   State = "deleted"
)

// Learner enqueues a completed episode for the learning orchestrator
// (C11). Lifecycle depends only on this narrow interface so it never
// imports the learning package directly.
type Learner interface {
	Enqueue(ctx context.Context, ep *model.Episode) error
}

// Config bounds the lifecycle's step-buffer and reward behavior.
type Config struct {
	Batching stepbuffer.Config
	Reward   reward.Weights
}

type registryEntry struct {
	state   State
	episode *model.Episode
	buffer  *stepbuffer.Buffer
}

// Lifecycle is the in-memory registry of open/recently-completed
// episodes, wired to durable storage via the sync engine.
type Lifecycle struct {
	mu        sync.RWMutex
	entries   map[string]*registryEntry
	seenTools map[string]bool

	sync     *syncengine.Engine
	index    *spatiotemporal.Index
	cache    *querycache.Cache
	learner  Learner
	cfg      Config
	logger   logging.Logger
}

// New builds a Lifecycle. index, cache, and learner may be nil — the
// corresponding side effects (spatiotemporal insertion, cache
// invalidation, learning handoff) are then skipped.
func New(sync *syncengine.Engine, index *spatiotemporal.Index, cache *querycache.Cache, learner Learner, cfg Config, logger logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Lifecycle{
		entries:   make(map[string]*registryEntry),
		seenTools: make(map[string]bool),
		sync:      sync,
		index:     index,
		cache:     cache,
		learner:   learner,
		cfg:       cfg,
		logger:    logger.WithComponent("epimem/episode"),
	}
}

// StartEpisode creates an Open episode: a fresh id, an in-memory
// registry entry and step buffer, and a stub record written to both
// backends via two-phase commit.
func (l *Lifecycle) StartEpisode(ctx context.Context, description string, taskType model.TaskType, episodeCtx model.Context) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	ep := &model.Episode{
		EpisodeID:   id,
		TaskType:    taskType,
		Description: description,
		Context:     episodeCtx,
		StartTime:   now,
		CreatedAt:   now,
		Metadata:    make(map[string]string),
	}

	if err := l.sync.CommitEpisode(ctx, ep); err != nil {
		return "", err
	}

	entry := &registryEntry{state: StateOpen, episode: ep}
	entry.buffer = stepbuffer.New(id, 0, l.flushFunc(id), l.cfg.Batching)

	l.mu.Lock()
	l.entries[id] = entry
	l.mu.Unlock()

	return id, nil
}

// flushFunc merges a batch of buffered steps into the in-memory
// episode and re-commits it, then invalidates any cached query results
// depending on episodes.
func (l *Lifecycle) flushFunc(id string) stepbuffer.FlushFunc {
	return func(ctx context.Context, steps []model.ExecutionStep) error {
		l.mu.Lock()
		entry, ok := l.entries[id]
		if !ok {
			l.mu.Unlock()
			return epierrors.New("episode.flush", epierrors.KindNotFound, id, epierrors.ErrNotFound)
		}
		entry.episode.Steps = append(entry.episode.Steps, steps...)
		snapshot := entry.episode
		l.mu.Unlock()

		if err := l.sync.CommitEpisode(ctx, snapshot); err != nil {
			return err
		}
		l.invalidate(querycache.DepEpisodes)
		return nil
	}
}

func (l *Lifecycle) lookup(id string) (*registryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[id]
	if !ok {
		return nil, epierrors.New("episode.lookup", epierrors.KindNotFound, id, epierrors.ErrNotFound)
	}
	return entry, nil
}

// LogStep validates and appends a step to id's buffer. Not an error if
// the buffer's flush policy defers the write.
func (l *Lifecycle) LogStep(ctx context.Context, id, toolName, action string, params map[string]interface{}, result *model.StepResult, latencyMs int64, tokenCount *int, metadata map[string]string) error {
	entry, err := l.lookup(id)
	if err != nil {
		return err
	}
	if entry.state != StateOpen {
		return epierrors.New("episode.LogStep", epierrors.KindInvalidState, id, epierrors.ErrInvalidState)
	}
	return entry.buffer.Append(ctx, toolName, action, params, result, latencyMs, tokenCount, metadata)
}

// UpdateEpisode patches description/metadata on any non-Deleted
// episode and invalidates cached query results depending on episodes.
func (l *Lifecycle) UpdateEpisode(ctx context.Context, id string, description *string, metadata map[string]string) error {
	entry, err := l.lookup(id)
	if err != nil {
		return err
	}
	if entry.state == StateDeleted {
		return epierrors.New("episode.UpdateEpisode", epierrors.KindInvalidState, id, epierrors.ErrInvalidState)
	}

	l.mu.Lock()
	if description != nil {
		entry.episode.Description = *description
	}
	for k, v := range metadata {
		if entry.episode.Metadata == nil {
			entry.episode.Metadata = make(map[string]string)
		}
		entry.episode.Metadata[k] = v
	}
	snapshot := entry.episode
	l.mu.Unlock()

	if err := l.sync.CommitEpisode(ctx, snapshot); err != nil {
		return err
	}
	l.invalidate(querycache.DepEpisodes)
	return nil
}

// CompleteEpisode flushes remaining steps, stamps end_time, computes
// the reward and reflection, inserts the episode into the
// spatiotemporal index, hands the episode to the learning
// orchestrator, and transitions the episode to Completed. After this
// call the episode's Steps/Outcome/Reward/Reflection are immutable.
func (l *Lifecycle) CompleteEpisode(ctx context.Context, id string, outcome *model.TaskOutcome) error {
	entry, err := l.lookup(id)
	if err != nil {
		return err
	}
	if entry.state != StateOpen {
		return epierrors.New("episode.CompleteEpisode", epierrors.KindInvalidState, id, epierrors.ErrInvalidState)
	}

	if err := entry.buffer.Flush(ctx); err != nil {
		return err
	}

	now := time.Now()
	l.mu.Lock()
	entry.episode.Outcome = outcome
	entry.episode.EndTime = &now

	seen := make(map[string]bool, len(l.seenTools))
	for k, v := range l.seenTools {
		seen[k] = v
	}
	entry.episode.Reward = reward.Score(entry.episode, seen, l.cfg.Reward)
	entry.episode.Reflection = reward.Reflect(entry.episode, l.cfg.Reward)
	for _, s := range entry.episode.Steps {
		l.seenTools[s.ToolName] = true
	}
	entry.state = StateCompleted
	snapshot := entry.episode
	l.mu.Unlock()

	if err := l.sync.CommitEpisode(ctx, snapshot); err != nil {
		return err
	}

	if l.index != nil {
		l.index.Insert(spatiotemporal.Entry{
			EpisodeID: snapshot.EpisodeID,
			Domain:    snapshot.Context.Domain,
			TaskType:  string(snapshot.TaskType),
			Timestamp: now,
		})
	}

	l.invalidate(querycache.DepEpisodes)

	if l.learner != nil {
		if err := l.learner.Enqueue(ctx, snapshot); err != nil {
			l.logger.WarnWithContext(ctx, "learning enqueue failed, episode remains completed without triggering extraction", map[string]interface{}{
				"episode_id": id,
				"error":      err.Error(),
			})
		}
	}
	return nil
}

// DeleteEpisode removes the episode from both backends, the
// spatiotemporal index, and the query cache, and drops the episode's
// back-reference from any heuristic evidence that names it. Patterns
// retain their immutable snapshot — the data model carries no
// per-episode id list on Pattern to scrub.
func (l *Lifecycle) DeleteEpisode(ctx context.Context, id string) error {
	entry, err := l.lookup(id)
	if err != nil {
		return err
	}

	if err := entry.buffer.Flush(ctx); err != nil {
		return err
	}

	if err := l.sync.RemoveEpisode(ctx, id); err != nil {
		return err
	}

	if l.index != nil {
		l.index.Remove(id)
	}
	l.invalidate()

	l.dropHeuristicEvidence(ctx, entry.episode.HeuristicIDs, id)

	l.mu.Lock()
	entry.state = StateDeleted
	l.mu.Unlock()
	return nil
}

func (l *Lifecycle) dropHeuristicEvidence(ctx context.Context, heuristicIDs []string, episodeID string) {
	for _, hid := range heuristicIDs {
		h, err := l.sync.ReadHeuristic(ctx, hid)
		if err != nil {
			continue
		}
		h.Evidence.EpisodeIDs = removeString(h.Evidence.EpisodeIDs, episodeID)
		h.Evidence.SampleSize = len(h.Evidence.EpisodeIDs)
		if err := l.sync.CommitHeuristic(ctx, h); err != nil {
			l.logger.WarnWithContext(ctx, "failed to drop episode back-reference from heuristic evidence", map[string]interface{}{
				"heuristic_id": hid,
				"episode_id":   episodeID,
				"error":        err.Error(),
			})
		}
	}
}

func removeString(in []string, target string) []string {
	out := in[:0]
	for _, s := range in {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the current in-memory view of an episode (not
// necessarily flushed to durable storage).
func (l *Lifecycle) Get(id string) (*model.Episode, State, error) {
	entry, err := l.lookup(id)
	if err != nil {
		return nil, "", err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return entry.episode, entry.state, nil
}

func (l *Lifecycle) invalidate(deps ...querycache.Dependency) {
	if l.cache == nil {
		return
	}
	l.cache.Invalidate(deps...)
}
