package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/model"
)

func (s *Store) StoreEmbedding(ctx context.Context, rec *model.EmbeddingRecord) error {
	table := embeddingTableFor(rec.Dimension)
	data, err := marshal(rec.Vector)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var query string
	var args []interface{}
	if table == "embeddings_other" {
		query = fmt.Sprintf(`INSERT INTO %s (embedding_id, item_id, item_type, embedding_data, model, dimension, created_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(embedding_id) DO UPDATE SET embedding_data=excluded.embedding_data`, table)
		args = []interface{}{embeddingID(rec.ItemID, rec.ItemType), rec.ItemID, string(rec.ItemType), data, rec.Model, rec.Dimension, rec.CreatedAt.Unix()}
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (embedding_id, item_id, item_type, embedding_data, model, created_at)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT(embedding_id) DO UPDATE SET embedding_data=excluded.embedding_data`, table)
		args = []interface{}{embeddingID(rec.ItemID, rec.ItemType), rec.ItemID, string(rec.ItemType), data, rec.Model, rec.CreatedAt.Unix()}
	}

	return withRetry(ctx, 5, func() error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return epierrors.New("sqlitestore.StoreEmbedding", epierrors.KindStorage, rec.ItemID, err)
		}
		return nil
	})
}

func embeddingID(itemID string, itemType model.ItemType) string {
	return string(itemType) + ":" + itemID
}

func (s *Store) GetEmbedding(ctx context.Context, itemID string, itemType model.ItemType) (*model.EmbeddingRecord, error) {
	for _, table := range allEmbeddingTables() {
		rec, err := s.getEmbeddingFromTable(ctx, table, itemID, itemType)
		if err == nil {
			return rec, nil
		}
		if !epierrors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, epierrors.New("sqlitestore.GetEmbedding", epierrors.KindNotFound, itemID, nil)
}

func (s *Store) getEmbeddingFromTable(ctx context.Context, table, itemID string, itemType model.ItemType) (*model.EmbeddingRecord, error) {
	hasDim := table == "embeddings_other"
	cols := "item_id, item_type, embedding_data, model, created_at"
	if hasDim {
		cols = "item_id, item_type, embedding_data, model, dimension, created_at"
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE embedding_id = ?`, cols, table), embeddingID(itemID, itemType))

	var rec model.EmbeddingRecord
	var itemTypeStr, data string
	var createdAt int64
	var err error
	if hasDim {
		err = row.Scan(&rec.ItemID, &itemTypeStr, &data, &rec.Model, &rec.Dimension, &createdAt)
	} else {
		err = row.Scan(&rec.ItemID, &itemTypeStr, &data, &rec.Model, &createdAt)
		rec.Dimension = dimensionFromTable(table)
	}
	if err == sql.ErrNoRows {
		return nil, epierrors.New("sqlitestore.getEmbeddingFromTable", epierrors.KindNotFound, itemID, nil)
	}
	if err != nil {
		return nil, epierrors.New("sqlitestore.getEmbeddingFromTable", epierrors.KindStorage, itemID, err)
	}
	rec.ItemType = model.ItemType(itemTypeStr)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	_ = unmarshal(data, &rec.Vector)
	return &rec, nil
}

func dimensionFromTable(table string) int {
	switch table {
	case "embeddings_384":
		return 384
	case "embeddings_1024":
		return 1024
	case "embeddings_1536":
		return 1536
	case "embeddings_3072":
		return 3072
	default:
		return 0
	}
}

func allEmbeddingTables() []string {
	return []string{"embeddings_384", "embeddings_1024", "embeddings_1536", "embeddings_3072", "embeddings_other"}
}

func (s *Store) DeleteEmbedding(ctx context.Context, itemID string, itemType model.ItemType) error {
	id := embeddingID(itemID, itemType)
	var deleted int64
	for _, table := range allEmbeddingTables() {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE embedding_id = ?`, table), id)
		if err != nil {
			return epierrors.New("sqlitestore.DeleteEmbedding", epierrors.KindStorage, itemID, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	if deleted == 0 {
		return epierrors.New("sqlitestore.DeleteEmbedding", epierrors.KindNotFound, itemID, nil)
	}
	return nil
}

// BatchStoreEmbeddings stores many embeddings inside one transaction,
// per SPEC_FULL.md §C's batch-helpers supplement so the embedding
// subsystem's batching policy (§4.4) doesn't pay per-item round-trips.
func (s *Store) BatchStoreEmbeddings(ctx context.Context, recs []*model.EmbeddingRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return epierrors.New("sqlitestore.BatchStoreEmbeddings", epierrors.KindStorage, "", err)
	}
	for _, rec := range recs {
		table := embeddingTableFor(rec.Dimension)
		data, err := marshal(rec.Vector)
		if err != nil {
			tx.Rollback()
			return err
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		var execErr error
		if table == "embeddings_other" {
			_, execErr = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (embedding_id, item_id, item_type, embedding_data, model, dimension, created_at)
				VALUES (?,?,?,?,?,?,?) ON CONFLICT(embedding_id) DO UPDATE SET embedding_data=excluded.embedding_data`, table),
				embeddingID(rec.ItemID, rec.ItemType), rec.ItemID, string(rec.ItemType), data, rec.Model, rec.Dimension, rec.CreatedAt.Unix())
		} else {
			_, execErr = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (embedding_id, item_id, item_type, embedding_data, model, created_at)
				VALUES (?,?,?,?,?,?) ON CONFLICT(embedding_id) DO UPDATE SET embedding_data=excluded.embedding_data`, table),
				embeddingID(rec.ItemID, rec.ItemType), rec.ItemID, string(rec.ItemType), data, rec.Model, rec.CreatedAt.Unix())
		}
		if execErr != nil {
			tx.Rollback()
			return epierrors.New("sqlitestore.BatchStoreEmbeddings", epierrors.KindStorage, rec.ItemID, execErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return epierrors.New("sqlitestore.BatchStoreEmbeddings", epierrors.KindStorage, "", err)
	}
	return nil
}

func (s *Store) BatchGetEmbeddings(ctx context.Context, itemIDs []string, itemType model.ItemType) ([]*model.EmbeddingRecord, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(itemIDs))
	ids := make([]interface{}, len(itemIDs))
	for i, itemID := range itemIDs {
		placeholders[i] = "?"
		ids[i] = embeddingID(itemID, itemType)
	}
	in := strings.Join(placeholders, ",")

	var out []*model.EmbeddingRecord
	for _, table := range allEmbeddingTables() {
		hasDim := table == "embeddings_other"
		cols := "item_id, item_type, embedding_data, model, created_at"
		if hasDim {
			cols = "item_id, item_type, embedding_data, model, dimension, created_at"
		}
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE embedding_id IN (%s)`, cols, table, in), ids...)
		if err != nil {
			return nil, epierrors.New("sqlitestore.BatchGetEmbeddings", epierrors.KindStorage, "", err)
		}
		for rows.Next() {
			var rec model.EmbeddingRecord
			var itemTypeStr, data string
			var createdAt int64
			var scanErr error
			if hasDim {
				scanErr = rows.Scan(&rec.ItemID, &itemTypeStr, &data, &rec.Model, &rec.Dimension, &createdAt)
			} else {
				scanErr = rows.Scan(&rec.ItemID, &itemTypeStr, &data, &rec.Model, &createdAt)
				rec.Dimension = dimensionFromTable(table)
			}
			if scanErr != nil {
				rows.Close()
				return nil, epierrors.New("sqlitestore.BatchGetEmbeddings", epierrors.KindStorage, "", scanErr)
			}
			rec.ItemType = model.ItemType(itemTypeStr)
			rec.CreatedAt = time.Unix(createdAt, 0).UTC()
			_ = unmarshal(data, &rec.Vector)
			out = append(out, &rec)
		}
		rows.Close()
	}
	return out, nil
}
