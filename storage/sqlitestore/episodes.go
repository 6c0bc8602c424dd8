package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/model"
)

func (s *Store) StoreEpisode(ctx context.Context, ep *model.Episode) error {
	if ep.EpisodeID == "" {
		ep.EpisodeID = newID()
	}
	steps, err := marshal(ep.Steps)
	if err != nil {
		return err
	}
	episodeCtx, err := marshal(ep.Context)
	if err != nil {
		return err
	}
	outcome, err := marshal(ep.Outcome)
	if err != nil {
		return err
	}
	reward, err := marshal(ep.Reward)
	if err != nil {
		return err
	}
	reflection, err := marshal(ep.Reflection)
	if err != nil {
		return err
	}
	patterns, err := marshal(ep.PatternIDs)
	if err != nil {
		return err
	}
	metadata, err := marshal(ep.Metadata)
	if err != nil {
		return err
	}

	var endTime *int64
	if ep.EndTime != nil {
		t := ep.EndTime.Unix()
		endTime = &t
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}

	return withRetry(ctx, 5, func() error {
		stmt, err := s.prepare(ctx, `INSERT INTO episodes
			(episode_id, task_type, task_description, context, start_time, end_time,
			 steps, outcome, reward, reflection, patterns, metadata, domain, language, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(episode_id) DO UPDATE SET
			 task_description=excluded.task_description, context=excluded.context,
			 end_time=excluded.end_time, steps=excluded.steps, outcome=excluded.outcome,
			 reward=excluded.reward, reflection=excluded.reflection, patterns=excluded.patterns,
			 metadata=excluded.metadata`)
		if err != nil {
			return epierrors.New("sqlitestore.StoreEpisode", epierrors.KindStorage, ep.EpisodeID, err)
		}
		_, err = stmt.ExecContext(ctx, ep.EpisodeID, string(ep.TaskType), ep.Description, episodeCtx,
			ep.StartTime.Unix(), endTime, steps, outcome, reward, reflection, patterns, metadata,
			ep.Context.Domain, nullableString(ep.Context.Language), ep.CreatedAt.Unix())
		if err != nil {
			return epierrors.New("sqlitestore.StoreEpisode", epierrors.KindStorage, ep.EpisodeID, err)
		}
		return nil
	})
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	stmt, err := s.prepare(ctx, `SELECT episode_id, task_type, task_description, context, start_time,
		end_time, steps, outcome, reward, reflection, patterns, metadata, created_at
		FROM episodes WHERE episode_id = ?`)
	if err != nil {
		return nil, epierrors.New("sqlitestore.GetEpisode", epierrors.KindStorage, id, err)
	}
	row := stmt.QueryRowContext(ctx, id)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, epierrors.New("sqlitestore.GetEpisode", epierrors.KindNotFound, id, nil)
	}
	if err != nil {
		return nil, epierrors.New("sqlitestore.GetEpisode", epierrors.KindStorage, id, err)
	}
	return ep, nil
}

func scanEpisode(row *sql.Row) (*model.Episode, error) {
	var ep model.Episode
	var taskType string
	var episodeCtx, steps, outcome, reward, reflection, patterns, metadata string
	var startTime, createdAt int64
	var endTime sql.NullInt64

	if err := row.Scan(&ep.EpisodeID, &taskType, &ep.Description, &episodeCtx, &startTime, &endTime,
		&steps, &outcome, &reward, &reflection, &patterns, &metadata, &createdAt); err != nil {
		return nil, err
	}
	ep.TaskType = model.TaskType(taskType)
	ep.StartTime = time.Unix(startTime, 0).UTC()
	ep.CreatedAt = time.Unix(createdAt, 0).UTC()
	if endTime.Valid {
		t := time.Unix(endTime.Int64, 0).UTC()
		ep.EndTime = &t
	}
	if err := unmarshal(episodeCtx, &ep.Context); err != nil {
		return nil, err
	}
	if err := unmarshal(steps, &ep.Steps); err != nil {
		return nil, err
	}
	if outcome != "" && outcome != "null" {
		ep.Outcome = &model.TaskOutcome{}
		if err := unmarshal(outcome, ep.Outcome); err != nil {
			return nil, err
		}
	}
	if reward != "" && reward != "null" {
		ep.Reward = &model.RewardScore{}
		if err := unmarshal(reward, ep.Reward); err != nil {
			return nil, err
		}
	}
	if reflection != "" && reflection != "null" {
		ep.Reflection = &model.Reflection{}
		if err := unmarshal(reflection, ep.Reflection); err != nil {
			return nil, err
		}
	}
	if err := unmarshal(patterns, &ep.PatternIDs); err != nil {
		return nil, err
	}
	if err := unmarshal(metadata, &ep.Metadata); err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	stmt, err := s.prepare(ctx, `DELETE FROM episodes WHERE episode_id = ?`)
	if err != nil {
		return epierrors.New("sqlitestore.DeleteEpisode", epierrors.KindStorage, id, err)
	}
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return epierrors.New("sqlitestore.DeleteEpisode", epierrors.KindStorage, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return epierrors.New("sqlitestore.DeleteEpisode", epierrors.KindNotFound, id, nil)
	}
	return nil
}

func (s *Store) QueryEpisodesSince(ctx context.Context, since time.Time, limit int) ([]*model.Episode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT episode_id, task_type, task_description, context, start_time,
		end_time, steps, outcome, reward, reflection, patterns, metadata, created_at
		FROM episodes WHERE start_time >= ? ORDER BY start_time DESC LIMIT ?`, since.Unix(), limit)
	if err != nil {
		return nil, epierrors.New("sqlitestore.QueryEpisodesSince", epierrors.KindStorage, "", err)
	}
	defer rows.Close()
	return scanEpisodeRows(rows)
}

func (s *Store) QueryEpisodesByMetadata(ctx context.Context, key, value string, limit int) ([]*model.Episode, error) {
	// SQLite JSON text search: cheap substring match on the metadata
	// blob. Acceptable since metadata is a small string map and this is
	// not the hot retrieval path (that goes through the spatiotemporal
	// index and embeddings).
	like := "%\"" + key + "\":\"" + value + "\"%"
	rows, err := s.db.QueryContext(ctx, `SELECT episode_id, task_type, task_description, context, start_time,
		end_time, steps, outcome, reward, reflection, patterns, metadata, created_at
		FROM episodes WHERE metadata LIKE ? ORDER BY start_time DESC LIMIT ?`, like, limit)
	if err != nil {
		return nil, epierrors.New("sqlitestore.QueryEpisodesByMetadata", epierrors.KindStorage, "", err)
	}
	defer rows.Close()
	return scanEpisodeRows(rows)
}

func scanEpisodeRows(rows *sql.Rows) ([]*model.Episode, error) {
	var out []*model.Episode
	for rows.Next() {
		var ep model.Episode
		var taskType string
		var episodeCtx, steps, outcome, reward, reflection, patterns, metadata string
		var startTime, createdAt int64
		var endTime sql.NullInt64

		if err := rows.Scan(&ep.EpisodeID, &taskType, &ep.Description, &episodeCtx, &startTime, &endTime,
			&steps, &outcome, &reward, &reflection, &patterns, &metadata, &createdAt); err != nil {
			return nil, epierrors.New("sqlitestore.scanEpisodeRows", epierrors.KindStorage, "", err)
		}
		ep.TaskType = model.TaskType(taskType)
		ep.StartTime = time.Unix(startTime, 0).UTC()
		ep.CreatedAt = time.Unix(createdAt, 0).UTC()
		if endTime.Valid {
			t := time.Unix(endTime.Int64, 0).UTC()
			ep.EndTime = &t
		}
		_ = unmarshal(episodeCtx, &ep.Context)
		_ = unmarshal(steps, &ep.Steps)
		if outcome != "" && outcome != "null" {
			ep.Outcome = &model.TaskOutcome{}
			_ = unmarshal(outcome, ep.Outcome)
		}
		if reward != "" && reward != "null" {
			ep.Reward = &model.RewardScore{}
			_ = unmarshal(reward, ep.Reward)
		}
		if reflection != "" && reflection != "null" {
			ep.Reflection = &model.Reflection{}
			_ = unmarshal(reflection, ep.Reflection)
		}
		_ = unmarshal(patterns, &ep.PatternIDs)
		_ = unmarshal(metadata, &ep.Metadata)
		out = append(out, &ep)
	}
	return out, rows.Err()
}
