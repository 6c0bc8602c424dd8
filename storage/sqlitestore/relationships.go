package sqlitestore

import (
	"context"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/model"
)

func (s *Store) StoreRelationship(ctx context.Context, rel *model.EpisodeRelationship) error {
	if rel.FromEpisodeID == rel.ToEpisodeID {
		return epierrors.New("sqlitestore.StoreRelationship", epierrors.KindInvalidInput, rel.FromEpisodeID, nil)
	}
	if rel.ID == "" {
		rel.ID = newID()
	}
	metadata, err := marshal(rel.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO relationships
		(relationship_id, from_episode_id, to_episode_id, relationship_type, metadata)
		VALUES (?,?,?,?,?)`, rel.ID, rel.FromEpisodeID, rel.ToEpisodeID, string(rel.Type), metadata)
	if err != nil {
		return epierrors.New("sqlitestore.StoreRelationship", epierrors.KindStorage, rel.ID, err)
	}
	return nil
}

func (s *Store) ListRelationships(ctx context.Context, episodeID string) ([]*model.EpisodeRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT relationship_id, from_episode_id, to_episode_id, relationship_type, metadata
		FROM relationships WHERE from_episode_id = ? OR to_episode_id = ?`, episodeID, episodeID)
	if err != nil {
		return nil, epierrors.New("sqlitestore.ListRelationships", epierrors.KindStorage, episodeID, err)
	}
	defer rows.Close()

	var out []*model.EpisodeRelationship
	for rows.Next() {
		var rel model.EpisodeRelationship
		var relType, metadata string
		if err := rows.Scan(&rel.ID, &rel.FromEpisodeID, &rel.ToEpisodeID, &relType, &metadata); err != nil {
			return nil, epierrors.New("sqlitestore.ListRelationships", epierrors.KindStorage, episodeID, err)
		}
		rel.Type = model.RelationshipType(relType)
		_ = unmarshal(metadata, &rel.Metadata)
		out = append(out, &rel)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRelationshipsForEpisode(ctx context.Context, episodeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE from_episode_id = ? OR to_episode_id = ?`, episodeID, episodeID)
	if err != nil {
		return epierrors.New("sqlitestore.DeleteRelationshipsForEpisode", epierrors.KindStorage, episodeID, err)
	}
	return nil
}
