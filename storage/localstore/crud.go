package localstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/model"
)

func (s *Store) StoreEpisode(ctx context.Context, ep *model.Episode) error {
	if ep.EpisodeID == "" {
		ep.EpisodeID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	return s.put(ctx, bucketEpisodes, ep.EpisodeID, ep)
}

func (s *Store) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	var ep model.Episode
	if err := s.get(ctx, bucketEpisodes, id, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	return s.delete(ctx, bucketEpisodes, id)
}

func (s *Store) QueryEpisodesSince(ctx context.Context, since time.Time, limit int) ([]*model.Episode, error) {
	keys, err := s.listKeys(ctx, bucketEpisodes)
	if err != nil {
		return nil, err
	}
	var out []*model.Episode
	for _, k := range keys {
		ep, err := s.GetEpisode(ctx, k)
		if err != nil {
			continue
		}
		if ep.StartTime.Before(since) {
			continue
		}
		out = append(out, ep)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) QueryEpisodesByMetadata(ctx context.Context, key, value string, limit int) ([]*model.Episode, error) {
	keys, err := s.listKeys(ctx, bucketEpisodes)
	if err != nil {
		return nil, err
	}
	var out []*model.Episode
	for _, k := range keys {
		ep, err := s.GetEpisode(ctx, k)
		if err != nil {
			continue
		}
		if ep.Metadata[key] != value {
			continue
		}
		out = append(out, ep)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) StorePattern(ctx context.Context, p *model.Pattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.put(ctx, bucketPatterns, p.ID, p)
}

func (s *Store) GetPattern(ctx context.Context, id string) (*model.Pattern, error) {
	var p model.Pattern
	if err := s.get(ctx, bucketPatterns, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeletePattern(ctx context.Context, id string) error {
	return s.delete(ctx, bucketPatterns, id)
}

func (s *Store) ListPatterns(ctx context.Context, limit int) ([]*model.Pattern, error) {
	keys, err := s.listKeys(ctx, bucketPatterns)
	if err != nil {
		return nil, err
	}
	var out []*model.Pattern
	for _, k := range keys {
		p, err := s.GetPattern(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) StoreHeuristic(ctx context.Context, h *model.Heuristic) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return s.put(ctx, bucketHeuristics, h.ID, h)
}

func (s *Store) GetHeuristic(ctx context.Context, id string) (*model.Heuristic, error) {
	var h model.Heuristic
	if err := s.get(ctx, bucketHeuristics, id, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) ListHeuristics(ctx context.Context, limit int) ([]*model.Heuristic, error) {
	keys, err := s.listKeys(ctx, bucketHeuristics)
	if err != nil {
		return nil, err
	}
	var out []*model.Heuristic
	for _, k := range keys {
		h, err := s.GetHeuristic(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) StoreEmbedding(ctx context.Context, rec *model.EmbeddingRecord) error {
	return s.put(ctx, bucketEmbeddings, embeddingKey(rec.ItemID, rec.ItemType), rec)
}

func (s *Store) GetEmbedding(ctx context.Context, itemID string, itemType model.ItemType) (*model.EmbeddingRecord, error) {
	var rec model.EmbeddingRecord
	if err := s.get(ctx, bucketEmbeddings, embeddingKey(itemID, itemType), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteEmbedding(ctx context.Context, itemID string, itemType model.ItemType) error {
	return s.delete(ctx, bucketEmbeddings, embeddingKey(itemID, itemType))
}

func (s *Store) BatchStoreEmbeddings(ctx context.Context, recs []*model.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := s.StoreEmbedding(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) BatchGetEmbeddings(ctx context.Context, itemIDs []string, itemType model.ItemType) ([]*model.EmbeddingRecord, error) {
	var out []*model.EmbeddingRecord
	for _, id := range itemIDs {
		rec, err := s.GetEmbedding(ctx, id, itemType)
		if err != nil {
			if epierrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) StoreRelationship(ctx context.Context, rel *model.EpisodeRelationship) error {
	if rel.FromEpisodeID == rel.ToEpisodeID {
		return epierrors.New("localstore.StoreRelationship", epierrors.KindInvalidInput, rel.FromEpisodeID, nil)
	}
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	key := "rel." + rel.ID
	return s.put(ctx, bucketMetadata, key, rel)
}

func (s *Store) ListRelationships(ctx context.Context, episodeID string) ([]*model.EpisodeRelationship, error) {
	keys, err := s.listKeys(ctx, bucketMetadata)
	if err != nil {
		return nil, err
	}
	var out []*model.EpisodeRelationship
	for _, k := range keys {
		if len(k) < 4 || k[:4] != "rel." {
			continue
		}
		var rel model.EpisodeRelationship
		if err := s.get(ctx, bucketMetadata, k, &rel); err != nil {
			continue
		}
		if rel.FromEpisodeID == episodeID || rel.ToEpisodeID == episodeID {
			out = append(out, &rel)
		}
	}
	return out, nil
}

func (s *Store) DeleteRelationshipsForEpisode(ctx context.Context, episodeID string) error {
	rels, err := s.ListRelationships(ctx, episodeID)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		_ = s.delete(ctx, bucketMetadata, "rel."+rel.ID)
	}
	return nil
}
