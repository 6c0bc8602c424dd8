// Package storage defines the capability-set contract (spec.md §4.1,
// C1) shared by both concrete backends: the durable relational store
// (storage/sqlitestore) and the local embedded key-value cache
// (storage/localstore). All methods are asynchronous (context-first)
// and fail with a single *errors.MemoryError carrying KindStorage (or a
// more specific non-recoverable kind for validation-style failures).
package storage

import (
	"context"
	"time"

	"github.com/agentic-memory/epimem/model"
)

// Backend is the full capability set a concrete storage engine must
// implement. Cache-first, durable-second two-phase commit (C12) is
// implemented one level up in the sync package, composing two Backends.
type Backend interface {
	StoreEpisode(ctx context.Context, ep *model.Episode) error
	GetEpisode(ctx context.Context, id string) (*model.Episode, error)
	DeleteEpisode(ctx context.Context, id string) error
	QueryEpisodesSince(ctx context.Context, since time.Time, limit int) ([]*model.Episode, error)
	QueryEpisodesByMetadata(ctx context.Context, key, value string, limit int) ([]*model.Episode, error)

	StorePattern(ctx context.Context, p *model.Pattern) error
	GetPattern(ctx context.Context, id string) (*model.Pattern, error)
	DeletePattern(ctx context.Context, id string) error
	ListPatterns(ctx context.Context, limit int) ([]*model.Pattern, error)

	StoreHeuristic(ctx context.Context, h *model.Heuristic) error
	GetHeuristic(ctx context.Context, id string) (*model.Heuristic, error)
	ListHeuristics(ctx context.Context, limit int) ([]*model.Heuristic, error)

	StoreEmbedding(ctx context.Context, rec *model.EmbeddingRecord) error
	GetEmbedding(ctx context.Context, itemID string, itemType model.ItemType) (*model.EmbeddingRecord, error)
	DeleteEmbedding(ctx context.Context, itemID string, itemType model.ItemType) error
	BatchStoreEmbeddings(ctx context.Context, recs []*model.EmbeddingRecord) error
	BatchGetEmbeddings(ctx context.Context, itemIDs []string, itemType model.ItemType) ([]*model.EmbeddingRecord, error)

	StoreRelationship(ctx context.Context, rel *model.EpisodeRelationship) error
	ListRelationships(ctx context.Context, episodeID string) ([]*model.EpisodeRelationship, error)
	DeleteRelationshipsForEpisode(ctx context.Context, episodeID string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// Stats is the optional extended interface a Backend may additionally
// implement to expose operational metrics (connection pool, prepared
// statement cache, ...). Not part of the core contract since the local
// cache backend has no pool to report.
type Stats interface {
	Stats() map[string]interface{}
}
