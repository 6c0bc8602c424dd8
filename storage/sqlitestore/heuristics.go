package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/model"
)

func (s *Store) StoreHeuristic(ctx context.Context, h *model.Heuristic) error {
	if h.ID == "" {
		h.ID = newID()
	}
	evidence, err := marshal(h.Evidence)
	if err != nil {
		return err
	}
	now := time.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now

	return withRetry(ctx, 5, func() error {
		stmt, err := s.prepare(ctx, `INSERT INTO heuristics
			(heuristic_id, condition_text, action_text, confidence, evidence, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(heuristic_id) DO UPDATE SET
			 confidence=excluded.confidence, evidence=excluded.evidence, updated_at=excluded.updated_at`)
		if err != nil {
			return epierrors.New("sqlitestore.StoreHeuristic", epierrors.KindStorage, h.ID, err)
		}
		_, err = stmt.ExecContext(ctx, h.ID, h.Condition, h.Action, h.Confidence, evidence,
			h.CreatedAt.Unix(), h.UpdatedAt.Unix())
		if err != nil {
			return epierrors.New("sqlitestore.StoreHeuristic", epierrors.KindStorage, h.ID, err)
		}
		return nil
	})
}

func (s *Store) GetHeuristic(ctx context.Context, id string) (*model.Heuristic, error) {
	stmt, err := s.prepare(ctx, `SELECT heuristic_id, condition_text, action_text, confidence, evidence,
		created_at, updated_at FROM heuristics WHERE heuristic_id = ?`)
	if err != nil {
		return nil, epierrors.New("sqlitestore.GetHeuristic", epierrors.KindStorage, id, err)
	}
	row := stmt.QueryRowContext(ctx, id)
	var h model.Heuristic
	var evidence string
	var createdAt, updatedAt int64
	if err := row.Scan(&h.ID, &h.Condition, &h.Action, &h.Confidence, &evidence, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, epierrors.New("sqlitestore.GetHeuristic", epierrors.KindNotFound, id, nil)
		}
		return nil, epierrors.New("sqlitestore.GetHeuristic", epierrors.KindStorage, id, err)
	}
	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	h.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	_ = unmarshal(evidence, &h.Evidence)
	return &h, nil
}

func (s *Store) ListHeuristics(ctx context.Context, limit int) ([]*model.Heuristic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT heuristic_id, condition_text, action_text, confidence,
		evidence, created_at, updated_at FROM heuristics ORDER BY confidence DESC LIMIT ?`, limit)
	if err != nil {
		return nil, epierrors.New("sqlitestore.ListHeuristics", epierrors.KindStorage, "", err)
	}
	defer rows.Close()

	var out []*model.Heuristic
	for rows.Next() {
		var h model.Heuristic
		var evidence string
		var createdAt, updatedAt int64
		if err := rows.Scan(&h.ID, &h.Condition, &h.Action, &h.Confidence, &evidence, &createdAt, &updatedAt); err != nil {
			return nil, epierrors.New("sqlitestore.ListHeuristics", epierrors.KindStorage, "", err)
		}
		h.CreatedAt = time.Unix(createdAt, 0).UTC()
		h.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		_ = unmarshal(evidence, &h.Evidence)
		out = append(out, &h)
	}
	return out, rows.Err()
}
