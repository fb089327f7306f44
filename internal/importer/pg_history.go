package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgHistoryStore persists confirm attempts in the import_history table.
type PgHistoryStore struct {
	pool *pgxpool.Pool
}

func NewPgHistoryStore(pool *pgxpool.Pool) *PgHistoryStore {
	return &PgHistoryStore{pool: pool}
}

func (s *PgHistoryStore) Append(ctx context.Context, entry HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_history (
			id, preview_id, file_name, status, total_rows,
			created_rows, updated_rows, failed_rows, error, processing_time_ms, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.PreviewID, entry.FileName, entry.Status, entry.Total,
		entry.Created, entry.Updated, entry.Failed, entry.Error, entry.ProcessingTimeMs, entry.FinishedAt)
	return err
}

func (s *PgHistoryStore) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, preview_id, file_name, status, total_rows,
		       created_rows, updated_rows, failed_rows, error, processing_time_ms, finished_at
		FROM import_history
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.PreviewID, &e.FileName, &e.Status, &e.Total,
			&e.Created, &e.Updated, &e.Failed, &e.Error, &e.ProcessingTimeMs, &e.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgHistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM import_history WHERE finished_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
