// Package memory wires every epimem component — config, logging,
// telemetry, the two storage backends, the sync engine, the step
// buffer, episode lifecycle, embeddings, the spatiotemporal index, the
// query cache, retrieval, pattern/heuristic extraction, and the
// learning orchestrator — into a single Engine API.
package memory

import (
	"context"
	"strings"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/config"
	"github.com/agentic-memory/epimem/embedding"
	"github.com/agentic-memory/epimem/episode"
	"github.com/agentic-memory/epimem/heuristics"
	"github.com/agentic-memory/epimem/learning"
	"github.com/agentic-memory/epimem/logging"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/patterns"
	"github.com/agentic-memory/epimem/querycache"
	"github.com/agentic-memory/epimem/reward"
	"github.com/agentic-memory/epimem/retrieval"
	"github.com/agentic-memory/epimem/spatiotemporal"
	"github.com/agentic-memory/epimem/stepbuffer"
	"github.com/agentic-memory/epimem/storage/localstore"
	"github.com/agentic-memory/epimem/storage/sqlitestore"
	"github.com/agentic-memory/epimem/sync"
	"github.com/agentic-memory/epimem/telemetry"
)

// Engine is epimem's single embedding point: start/append/complete/
// delete episodes, and retrieve relevant past episodes for a new task.
type Engine struct {
	cfg *config.Config

	durable *sqlitestore.Store
	cache   *localstore.Store
	sync    *sync.Engine

	embedder embedding.Provider
	index    *spatiotemporal.Index
	qcache   *querycache.Cache
	remote   *querycache.RemoteCache
	retrieve *retrieval.Engine

	lifecycle    *episode.Lifecycle
	orchestrator *learning.Orchestrator

	telemetry *telemetry.Provider
	logger    logging.Logger
}

// New builds and starts an Engine from cfg. The returned Engine owns
// both storage backends and the learning orchestrator's worker pool;
// call Close to release them.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	logger := logging.NewProductionLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	tp, err := telemetry.New("epimem")
	if err != nil {
		return nil, epierrors.New("memory.New", epierrors.KindValidationFailed, "", err)
	}

	durable, err := sqlitestore.New(sqlitestore.Config{
		Path:              durablePath(cfg.Database),
		MinPoolSize:       cfg.Storage.PoolMinSize,
		MaxPoolSize:       cfg.Storage.PoolMaxSize,
		SizingInterval:    cfg.Storage.SizingInterval,
		CooldownSamples:   cfg.Storage.CooldownWindow,
		HighWatermark:     cfg.Storage.HighWatermark,
		LowWatermark:      cfg.Storage.LowWatermark,
		GrowthIncrement:   cfg.Storage.GrowthIncrement,
		KeepaliveInterval: cfg.Storage.KeepaliveInterval,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	cacheStore, err := localstore.New(ctx, localstore.Config{StoreDir: cacheDir(cfg.Database), Logger: logger})
	if err != nil {
		durable.Close()
		return nil, err
	}

	syncEngine := sync.New(durable, cacheStore, sync.Config{Policy: sync.PolicyDurableWins, Logger: logger})

	var embedder embedding.Provider
	if cfg.Embedding.Enabled {
		embedder, err = embedding.New(ctx, cfg.Embedding, cfg.Resilience)
		if err != nil {
			durable.Close()
			cacheStore.Close()
			return nil, err
		}
	}

	index := spatiotemporal.New(cfg.Spatiotemporal)
	qcache := querycache.New(cfg.QueryCache)

	// RemoteCache is an optional shared L2 tier for multi-instance
	// deployments; the in-process Cache above always serves retrieval
	// directly (spec.md §4.6 describes a single-process cache — the
	// remote tier enriches this per SPEC_FULL.md's distributed-cache
	// wiring without changing retrieval's cache-hit semantics).
	var remote *querycache.RemoteCache
	if cfg.QueryCache.RedisURL != "" {
		remote, err = querycache.NewRemoteCache(ctx, cfg.QueryCache.RedisURL, logger)
		if err != nil {
			durable.Close()
			cacheStore.Close()
			return nil, err
		}
	}

	retrieveEngine := retrieval.New(durable, index, embedder, qcache, remote, cfg.Retrieval)

	orchestrator := learning.New(syncEngine, qcache, learning.Config{
		QueueSize: cfg.Learning.QueueSize,
		Workers:   cfg.Learning.Workers,
		EnqueueDeadline: cfg.Learning.EnqueueDeadline,
		Patterns: patterns.Config{
			ConfidenceMin:    cfg.Learning.PatternConfidenceMin,
			ConfidenceStrict: cfg.Learning.PatternConfidenceStrict,
			MinSampleStrict:  cfg.Learning.PatternMinSampleStrict,
		},
		Heuristics: heuristics.Config{
			ConfidenceMin:   cfg.Learning.PatternConfidenceMin,
			MinSampleStrict: cfg.Learning.PatternMinSampleStrict,
		},
		Decay: patterns.DecayConfig{
			Lambda:          cfg.Learning.DecayLambda,
			RetainThreshold: cfg.Learning.DecayRetainThreshold,
			PinThreshold:    cfg.Learning.DecayPinThreshold,
		},
		Logger: logger,
	})

	lifecycle := episode.New(syncEngine, index, qcache, orchestrator, episode.Config{
		Batching: stepbuffer.Config{
			MaxBatchSize:    cfg.Batching.MaxBatchSize,
			FlushIntervalMs: cfg.Batching.FlushIntervalMs,
			Policy:          stepbuffer.Policy(cfg.Batching.Profile),
			Logger:          logger,
		},
		Reward: reward.Weights{
			EfficiencyWeight:  cfg.Reward.EfficiencyWeight,
			QualityWeight:     cfg.Reward.QualityWeight,
			NoveltyWeight:     cfg.Reward.NoveltyWeight,
			LatencyBaselineMs: cfg.Reward.LatencyBaselineMs,
			MaxInsightLength:  cfg.Reward.MaxInsightLength,
		},
	}, logger)

	return &Engine{
		cfg: cfg, durable: durable, cache: cacheStore, sync: syncEngine,
		embedder: embedder, index: index, qcache: qcache, remote: remote, retrieve: retrieveEngine,
		lifecycle: lifecycle, orchestrator: orchestrator, telemetry: tp, logger: logger,
	}, nil
}

// StartEpisode begins a new Open episode.
func (e *Engine) StartEpisode(ctx context.Context, description string, taskType model.TaskType, episodeCtx model.Context) (string, error) {
	return e.lifecycle.StartEpisode(ctx, description, taskType, episodeCtx)
}

// LogStep appends a step to an open episode's buffer.
func (e *Engine) LogStep(ctx context.Context, episodeID, toolName, action string, params map[string]interface{}, result *model.StepResult, latencyMs int64, tokenCount *int, metadata map[string]string) error {
	return e.lifecycle.LogStep(ctx, episodeID, toolName, action, params, result, latencyMs, tokenCount, metadata)
}

// UpdateEpisode patches an episode's description/metadata.
func (e *Engine) UpdateEpisode(ctx context.Context, episodeID string, description *string, metadata map[string]string) error {
	return e.lifecycle.UpdateEpisode(ctx, episodeID, description, metadata)
}

// CompleteEpisode closes an episode, scoring reward/reflection and
// handing it to the learning orchestrator.
func (e *Engine) CompleteEpisode(ctx context.Context, episodeID string, outcome *model.TaskOutcome) error {
	return e.lifecycle.CompleteEpisode(ctx, episodeID, outcome)
}

// DeleteEpisode removes an episode from every subsystem.
func (e *Engine) DeleteEpisode(ctx context.Context, episodeID string) error {
	return e.lifecycle.DeleteEpisode(ctx, episodeID)
}

// Retrieve runs the ranked, diversified retrieval pipeline (C7).
func (e *Engine) Retrieve(ctx context.Context, query retrieval.Query) ([]*model.Episode, error) {
	return e.retrieve.Search(ctx, query)
}

// RunDecayPass triggers an out-of-band pattern decay sweep (C8).
func (e *Engine) RunDecayPass(ctx context.Context) error {
	return e.orchestrator.RunDecayPass(ctx)
}

// reconciliationWindow bounds how far back RunReconciliation looks for
// episodes to compare across backends on each sweep.
const reconciliationWindow = 7 * 24 * time.Hour

// RunReconciliation triggers C12's periodic reconciliation pass: any
// cache/durable divergence in episodes, patterns, and heuristics is
// resolved per the sync engine's configured policy, and every episode
// whose divergence was resolved is re-inserted into the spatiotemporal
// index (spec.md §4.5's "the index is updated... during
// reconciliation").
func (e *Engine) RunReconciliation(ctx context.Context) error {
	resolved, err := e.sync.Reconcile(ctx, time.Now().Add(-reconciliationWindow))
	if err != nil {
		return err
	}
	if e.index != nil {
		for _, ep := range resolved {
			e.index.Insert(spatiotemporal.Entry{
				EpisodeID: ep.EpisodeID,
				Domain:    ep.Context.Domain,
				TaskType:  string(ep.TaskType),
				Timestamp: episodeIndexTimestamp(ep),
			})
		}
	}
	if err := e.sync.ReconcilePatterns(ctx); err != nil {
		return err
	}
	if err := e.sync.ReconcileHeuristics(ctx); err != nil {
		return err
	}
	if e.qcache != nil {
		e.qcache.Invalidate(querycache.DepEpisodes, querycache.DepPatterns, querycache.DepHeuristics)
	}
	if e.remote != nil {
		e.remote.InvalidateDeps(ctx, querycache.DepEpisodes, querycache.DepPatterns, querycache.DepHeuristics)
	}
	return nil
}

func episodeIndexTimestamp(ep *model.Episode) time.Time {
	if ep.EndTime != nil {
		return *ep.EndTime
	}
	return ep.StartTime
}

// HealthCheck verifies both storage backends are reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.durable.HealthCheck(ctx); err != nil {
		return err
	}
	return e.cache.HealthCheck(ctx)
}

// Close releases every owned resource: the learning orchestrator's
// worker pool, telemetry provider, and both storage backends.
func (e *Engine) Close(ctx context.Context) error {
	e.orchestrator.Stop()
	if e.remote != nil {
		if err := e.remote.Close(); err != nil {
			e.logger.WarnWithContext(ctx, "remote cache close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := e.telemetry.Shutdown(ctx); err != nil {
		e.logger.WarnWithContext(ctx, "telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if err := e.cache.Close(); err != nil {
		return err
	}
	return e.durable.Close()
}

func durablePath(db config.DatabaseConfig) string {
	if db.DurableURL == "" {
		return "./epimem-durable.db"
	}
	return strings.TrimPrefix(db.DurableURL, "file://")
}

func cacheDir(db config.DatabaseConfig) string {
	if db.CachePath == "" {
		return "./epimem-cache"
	}
	return db.CachePath
}
