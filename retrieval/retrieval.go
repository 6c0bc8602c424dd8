// Package retrieval implements the retrieval engine (spec.md §4.7,
// C7): cache lookup, candidate gather, weighted ranking, MMR
// diversification, and cache population.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/agentic-memory/epimem/config"
	"github.com/agentic-memory/epimem/embedding"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/querycache"
	"github.com/agentic-memory/epimem/spatiotemporal"
	"github.com/agentic-memory/epimem/storage"
)

// Query is the retrieval request shape: (query_text, context, limit)
// plus an optional mode.
type Query struct {
	QueryText string
	Context   model.Context
	Limit     int
	Strict    bool // use StrictMinRelevance instead of MinRelevance
}

// Engine wires storage, the spatiotemporal index, an embedding
// provider, and the query cache into one retrieval pipeline. Embedding
// and Index may be nil — Engine degrades to a recency scan over
// storage when either is unavailable. Remote is an optional shared L2
// tier checked on a local-cache miss and populated alongside it; nil
// disables it.
type Engine struct {
	durable storage.Backend
	index   *spatiotemporal.Index
	embed   embedding.Provider
	cache   *querycache.Cache
	remote  *querycache.RemoteCache
	cfg     config.RetrievalConfig
}

// New builds a retrieval Engine.
func New(durable storage.Backend, index *spatiotemporal.Index, embed embedding.Provider, cache *querycache.Cache, remote *querycache.RemoteCache, cfg config.RetrievalConfig) *Engine {
	return &Engine{durable: durable, index: index, embed: embed, cache: cache, remote: remote, cfg: cfg}
}

type scored struct {
	episode *model.Episode
	vector  []float32
	score   float64
}

// Search runs the full pipeline and returns up to q.Limit episodes.
// limit=0 is an explicit empty request (spec.md §8's boundary case):
// it returns immediately without touching the cache. A negative limit
// is treated as unset and defaults to 10.
func (e *Engine) Search(ctx context.Context, q Query) ([]*model.Episode, error) {
	if q.Limit == 0 {
		return nil, nil
	}
	if q.Limit < 0 {
		q.Limit = 10
	}

	key := cacheKey(q)
	if e.cache != nil {
		if hit, ok := e.cache.Get(key); ok {
			if episodes, ok := hit.([]*model.Episode); ok {
				return cloneEpisodes(episodes), nil
			}
		}
	}
	if e.remote != nil {
		var episodes []*model.Episode
		if e.remote.Get(ctx, key, &episodes) {
			if e.cache != nil {
				e.cache.Put(key, episodes, []querycache.Dependency{querycache.DepEpisodes, querycache.DepEmbeddings}, estimateSize(episodes), 0)
			}
			return cloneEpisodes(episodes), nil
		}
	}

	candidates, err := e.gatherCandidates(ctx, q)
	if err != nil {
		return nil, err
	}

	queryVec := e.queryVector(ctx, q.QueryText)
	rankedCandidates := e.rank(candidates, queryVec, q.Context)

	minRelevance := e.cfg.MinRelevance
	if q.Strict {
		minRelevance = e.cfg.StrictMinRelevance
	}
	var filtered []scored
	for _, c := range rankedCandidates {
		if c.score >= minRelevance {
			filtered = append(filtered, c)
		}
	}

	lambda := e.cfg.MMRLambda
	if lambda <= 0 {
		lambda = 0.7
	}
	diversified := diversify(filtered, q.Limit, lambda)

	episodes := make([]*model.Episode, len(diversified))
	for i, c := range diversified {
		episodes[i] = c.episode
	}

	deps := []querycache.Dependency{querycache.DepEpisodes, querycache.DepEmbeddings}
	if e.cache != nil {
		e.cache.Put(key, episodes, deps, estimateSize(episodes), 0)
	}
	if e.remote != nil {
		e.remote.Put(ctx, key, episodes, deps, e.cfg.RemoteCacheTTL)
	}
	return episodes, nil
}

func cacheKey(q Query) querycache.Key {
	return querycache.Key{QueryText: q.QueryText, Domain: q.Context.Domain, TaskType: "", Limit: q.Limit}
}

func cloneEpisodes(in []*model.Episode) []*model.Episode {
	out := make([]*model.Episode, len(in))
	copy(out, in)
	return out
}

func estimateSize(episodes []*model.Episode) int {
	total := 0
	for _, ep := range episodes {
		total += len(ep.Description) + len(ep.Steps)*64
	}
	return total
}

func (e *Engine) queryVector(ctx context.Context, text string) []float32 {
	if e.embed == nil || text == "" {
		return nil
	}
	vec, err := e.embed.Embed(ctx, text)
	if err != nil {
		return nil
	}
	return vec
}

// gatherCandidates implements step 2: k*limit candidates (k>=3) via
// the spatiotemporal index when available, else a recency scan over
// storage.
func (e *Engine) gatherCandidates(ctx context.Context, q Query) ([]*model.Episode, error) {
	k := e.cfg.CandidateMultiplier
	if k < 3 {
		k = 3
	}
	want := q.Limit * k

	if e.index != nil {
		ids := e.index.Search(spatiotemporal.Query{Domain: q.Context.Domain, Limit: want})
		if len(ids) > 0 {
			episodes := make([]*model.Episode, 0, len(ids))
			for _, id := range ids {
				ep, err := e.durable.GetEpisode(ctx, id)
				if err == nil {
					episodes = append(episodes, ep)
				}
			}
			return episodes, nil
		}
	}

	return e.durable.QueryEpisodesSince(ctx, time.Time{}, want)
}

// rank implements step 3's weighted sum: semantic/context/
// effectiveness/recency/success.
func (e *Engine) rank(candidates []*model.Episode, queryVec []float32, queryCtx model.Context) []scored {
	out := make([]scored, 0, len(candidates))
	now := time.Now()
	for _, ep := range candidates {
		var vec []float32
		semantic := 0.0
		if queryVec != nil && e.embed != nil {
			if rec, err := e.fetchEmbedding(ep.EpisodeID); err == nil && rec != nil {
				vec = rec
				semantic = cosineSimilarity(queryVec, rec)
			}
		}
		contextMatch := contextRelevance(ep.Context, queryCtx)
		effectiveness := effectivenessScore(ep)
		recency := recencyScore(ep, now)
		success := successScore(ep)

		score := semantic*e.cfg.SemanticWeight +
			contextMatch*e.cfg.ContextWeight +
			effectiveness*e.cfg.EffectivenessWeight +
			recency*e.cfg.RecencyWeight +
			success*e.cfg.SuccessWeight

		out = append(out, scored{episode: ep, vector: vec, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func (e *Engine) fetchEmbedding(episodeID string) ([]float32, error) {
	ctx := context.Background()
	rec, err := e.durable.GetEmbedding(ctx, episodeID, model.ItemEpisode)
	if err != nil {
		return nil, err
	}
	return rec.Vector, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// contextRelevance scores domain/language/framework/complexity match
// plus tag Jaccard similarity, normalized to [0,1].
func contextRelevance(a, b model.Context) float64 {
	score := 0.0
	total := 0.0

	total++
	if a.Domain != "" && a.Domain == b.Domain {
		score++
	}
	total++
	if a.Language != "" && a.Language == b.Language {
		score++
	}
	total++
	if a.Framework != "" && a.Framework == b.Framework {
		score++
	}
	total++
	if a.Complexity != "" && a.Complexity == b.Complexity {
		score++
	}

	score += jaccard(a.Tags, b.Tags)
	total++

	if total == 0 {
		return 0
	}
	return score / total
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// effectivenessScore scores an episode by pattern linkage alone: how
// many patterns/heuristics it contributed to, normalized against an
// assumed typical count of 5 and capped at 1.0. No recency term
// enters this score.
func effectivenessScore(ep *model.Episode) float64 {
	n := len(ep.PatternIDs) + len(ep.HeuristicIDs)
	return math.Min(float64(n)/5.0, 1.0)
}

// recencyScore applies exponential decay over episode age in days.
func recencyScore(ep *model.Episode, now time.Time) float64 {
	ts := ep.StartTime
	if ep.EndTime != nil {
		ts = *ep.EndTime
	}
	ageDays := now.Sub(ts).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-0.05 * ageDays)
}

func successScore(ep *model.Episode) float64 {
	if ep.Reward != nil {
		return ep.Reward.Total
	}
	if ep.Outcome != nil && ep.Outcome.Kind == model.OutcomeSuccess {
		return 1.0
	}
	return 0.0
}

// diversify implements MMR: iteratively picks the candidate
// maximizing lambda*relevance - (1-lambda)*max_sim_to_selected, until
// limit is reached or candidates are exhausted.
func diversify(candidates []scored, limit int, lambda float64) []scored {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}
	remaining := make([]scored, len(candidates))
	copy(remaining, candidates)
	var selected []scored

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := cosineSimilarity(c.vector, s.vector); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*c.score - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}
