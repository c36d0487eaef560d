// Package postgres implements connectoragents.SnapshotStore using
// PostgreSQL via pgx/v5, grounded on the teacher's store/postgres.go
// (externally-owned *pgxpool.Pool injected by the caller, who owns opening
// and closing it) but trimmed from a multi-table RAG schema down to the one
// table a snapshot store needs: one row per save directory.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/git5001/connectoragents"
)

// Store implements connectoragents.SnapshotStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ connectoragents.SnapshotStore = (*Store)(nil)

// New wraps an existing pgxpool.Pool. The caller owns the pool and is
// responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the snapshots table if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			dir TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			saved_at BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("connectoragents/store/postgres: init schema: %w", err)
	}
	return nil
}

// Save upserts the encoded snapshot for dir.
func (s *Store) Save(dir string, snap connectoragents.Snapshot) error {
	data, err := connectoragents.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("connectoragents/store/postgres: encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO snapshots (dir, data, saved_at) VALUES ($1, $2, extract(epoch from now()) * 1000)
		ON CONFLICT (dir) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		dir, data)
	if err != nil {
		return fmt.Errorf("connectoragents/store/postgres: save snapshot: %w", err)
	}
	return nil
}

// Load reads back the snapshot last saved under dir.
func (s *Store) Load(dir string) (connectoragents.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT data FROM snapshots WHERE dir = $1`, dir).Scan(&data)
	if err != nil {
		return connectoragents.Snapshot{}, fmt.Errorf("connectoragents/store/postgres: no snapshot saved under %q: %w", dir, err)
	}
	return connectoragents.UnmarshalSnapshot(data)
}
