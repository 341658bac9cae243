package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MisTAiM/movienights/internal/room"
)

const schema = `
	CREATE TABLE IF NOT EXISTS room_snapshots (
		code       TEXT PRIMARY KEY,
		host_id    TEXT NOT NULL,
		snapshot   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool}
}

// EnsureSchema creates the snapshot table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create room_snapshots table: %w", err)
	}
	return nil
}

// Save upserts the snapshot of r
func (s *PostgresStore) Save(ctx context.Context, r *room.Room) error {
	query := `
		INSERT INTO room_snapshots (code, host_id, snapshot, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, query, r.Code, r.HostID, data, time.Now().UTC())
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// Load retrieves the snapshot of code
func (s *PostgresStore) Load(ctx context.Context, code string) (*room.Room, error) {
	query := `SELECT snapshot FROM room_snapshots WHERE code = $1`

	var data []byte
	if err := s.pool.QueryRow(ctx, query, code).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	r := new(room.Room)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return r, nil
}

// Delete removes the snapshot of code. Deleting a missing snapshot is not an error.
func (s *PostgresStore) Delete(ctx context.Context, code string) error {
	query := `DELETE FROM room_snapshots WHERE code = $1`

	if _, err := s.pool.Exec(ctx, query, code); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return nil
}

func (s *PostgresStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM room_snapshots WHERE updated_at < $1`

	result, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale snapshots: %w", err)
	}

	return result.RowsAffected(), nil
}
