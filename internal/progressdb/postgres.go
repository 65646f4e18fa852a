package progressdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is the production Postgres-backed implementation.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec Record) (Record, error) {
	q := `
INSERT INTO video_progress (video_id, position_ms, client_ts_ms, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (video_id)
DO UPDATE SET
  position_ms  = EXCLUDED.position_ms,
  client_ts_ms = EXCLUDED.client_ts_ms,
  updated_at   = EXCLUDED.updated_at
WHERE video_progress.client_ts_ms <= EXCLUDED.client_ts_ms
RETURNING position_ms, client_ts_ms, updated_at`

	out := Record{VideoID: rec.VideoID}
	err := r.db.QueryRow(ctx, q,
		rec.VideoID, rec.PositionMs, rec.ClientTsMs, time.Now().UTC(),
	).Scan(&out.PositionMs, &out.ClientTsMs, &out.UpdatedAt)
	if err != nil {
		// WHERE clause blocked a stale update; return the current row.
		if errors.Is(err, pgx.ErrNoRows) {
			return r.Last(ctx, rec.VideoID)
		}
		return Record{}, fmt.Errorf("progress upsert: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Last(ctx context.Context, videoID string) (Record, error) {
	q := `SELECT position_ms, client_ts_ms, updated_at FROM video_progress WHERE video_id = $1`
	out := Record{VideoID: videoID}
	err := r.db.QueryRow(ctx, q, videoID).Scan(&out.PositionMs, &out.ClientTsMs, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("progress last: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT video_id, position_ms, client_ts_ms, updated_at
	      FROM video_progress ORDER BY updated_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("progress list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.VideoID, &rec.PositionMs, &rec.ClientTsMs, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("progress list scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
