package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/model"
)

func (s *Store) StorePattern(ctx context.Context, p *model.Pattern) error {
	if p.ID == "" {
		p.ID = newID()
	}
	data, err := marshalPatternPayload(p)
	if err != nil {
		return err
	}
	tags, err := marshal(p.Context.Tags)
	if err != nil {
		return err
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return withRetry(ctx, 5, func() error {
		stmt, err := s.prepare(ctx, `INSERT INTO patterns
			(pattern_id, pattern_type, pattern_data, success_rate, context_domain, context_language,
			 context_tags, occurrence_count, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(pattern_id) DO UPDATE SET
			 pattern_data=excluded.pattern_data, success_rate=excluded.success_rate,
			 occurrence_count=excluded.occurrence_count, updated_at=excluded.updated_at`)
		if err != nil {
			return epierrors.New("sqlitestore.StorePattern", epierrors.KindStorage, p.ID, err)
		}
		_, err = stmt.ExecContext(ctx, p.ID, string(p.Kind), data, p.SuccessRate,
			nullableString(p.Context.Domain), nullableString(p.Context.Language), tags,
			p.OccurrenceCount, p.CreatedAt.Unix(), p.UpdatedAt.Unix())
		if err != nil {
			return epierrors.New("sqlitestore.StorePattern", epierrors.KindStorage, p.ID, err)
		}
		return nil
	})
}

func marshalPatternPayload(p *model.Pattern) (string, error) {
	type payload struct {
		Effectiveness model.EffectivenessTracker   `json:"effectiveness"`
		ToolSequence  *model.ToolSequencePayload    `json:"tool_sequence,omitempty"`
		Decision      *model.DecisionPointPayload   `json:"decision,omitempty"`
		Recovery      *model.ErrorRecoveryPayload   `json:"recovery,omitempty"`
		ContextPat    *model.ContextPatternPayload  `json:"context_pattern,omitempty"`
	}
	return marshal(payload{
		Effectiveness: p.EffectivenessTracker,
		ToolSequence:  p.ToolSequence,
		Decision:      p.Decision,
		Recovery:      p.Recovery,
		ContextPat:    p.ContextPat,
	})
}

func (s *Store) GetPattern(ctx context.Context, id string) (*model.Pattern, error) {
	stmt, err := s.prepare(ctx, `SELECT pattern_id, pattern_type, pattern_data, success_rate,
		context_domain, context_language, context_tags, occurrence_count, created_at, updated_at
		FROM patterns WHERE pattern_id = ?`)
	if err != nil {
		return nil, epierrors.New("sqlitestore.GetPattern", epierrors.KindStorage, id, err)
	}
	p, err := scanPattern(stmt.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, epierrors.New("sqlitestore.GetPattern", epierrors.KindNotFound, id, nil)
	}
	if err != nil {
		return nil, epierrors.New("sqlitestore.GetPattern", epierrors.KindStorage, id, err)
	}
	return p, nil
}

func scanPattern(row *sql.Row) (*model.Pattern, error) {
	var p model.Pattern
	var kind, data, tags string
	var domain, language sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&p.ID, &kind, &data, &p.SuccessRate, &domain, &language, &tags,
		&p.OccurrenceCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Kind = model.PatternKind(kind)
	p.Context.Domain = domain.String
	p.Context.Language = language.String
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	_ = unmarshal(tags, &p.Context.Tags)

	var payload struct {
		Effectiveness model.EffectivenessTracker  `json:"effectiveness"`
		ToolSequence  *model.ToolSequencePayload   `json:"tool_sequence,omitempty"`
		Decision      *model.DecisionPointPayload  `json:"decision,omitempty"`
		Recovery      *model.ErrorRecoveryPayload  `json:"recovery,omitempty"`
		ContextPat    *model.ContextPatternPayload `json:"context_pattern,omitempty"`
	}
	if err := unmarshal(data, &payload); err != nil {
		return nil, err
	}
	p.EffectivenessTracker = payload.Effectiveness
	p.ToolSequence = payload.ToolSequence
	p.Decision = payload.Decision
	p.Recovery = payload.Recovery
	p.ContextPat = payload.ContextPat
	return &p, nil
}

func (s *Store) DeletePattern(ctx context.Context, id string) error {
	stmt, err := s.prepare(ctx, `DELETE FROM patterns WHERE pattern_id = ?`)
	if err != nil {
		return epierrors.New("sqlitestore.DeletePattern", epierrors.KindStorage, id, err)
	}
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return epierrors.New("sqlitestore.DeletePattern", epierrors.KindStorage, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return epierrors.New("sqlitestore.DeletePattern", epierrors.KindNotFound, id, nil)
	}
	return nil
}

func (s *Store) ListPatterns(ctx context.Context, limit int) ([]*model.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern_id, pattern_type, pattern_data, success_rate,
		context_domain, context_language, context_tags, occurrence_count, created_at, updated_at
		FROM patterns ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, epierrors.New("sqlitestore.ListPatterns", epierrors.KindStorage, "", err)
	}
	defer rows.Close()

	var out []*model.Pattern
	for rows.Next() {
		var p model.Pattern
		var kind, data, tags string
		var domain, language sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &kind, &data, &p.SuccessRate, &domain, &language, &tags,
			&p.OccurrenceCount, &createdAt, &updatedAt); err != nil {
			return nil, epierrors.New("sqlitestore.ListPatterns", epierrors.KindStorage, "", err)
		}
		p.Kind = model.PatternKind(kind)
		p.Context.Domain = domain.String
		p.Context.Language = language.String
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		_ = unmarshal(tags, &p.Context.Tags)
		var payload struct {
			Effectiveness model.EffectivenessTracker  `json:"effectiveness"`
			ToolSequence  *model.ToolSequencePayload   `json:"tool_sequence,omitempty"`
			Decision      *model.DecisionPointPayload  `json:"decision,omitempty"`
			Recovery      *model.ErrorRecoveryPayload  `json:"recovery,omitempty"`
			ContextPat    *model.ContextPatternPayload `json:"context_pattern,omitempty"`
		}
		_ = unmarshal(data, &payload)
		p.EffectivenessTracker = payload.Effectiveness
		p.ToolSequence = payload.ToolSequence
		p.Decision = payload.Decision
		p.Recovery = payload.Recovery
		p.ContextPat = payload.ContextPat
		out = append(out, &p)
	}
	return out, rows.Err()
}
