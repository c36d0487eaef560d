// Package sqlite implements connectoragents.SnapshotStore using pure-Go
// SQLite. Zero CGO required, grounded on the teacher's store/sqlite.go
// (single shared connection, pure-Go driver, slog-gated debug logging) but
// trimmed from a multi-table RAG schema down to the one table a snapshot
// store actually needs: one row per save directory holding the latest
// encoded Snapshot tree.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/git5001/connectoragents"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store implements connectoragents.SnapshotStore backed by a local SQLite
// file (or ":memory:" for tests).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ connectoragents.SnapshotStore = (*Store)(nil)

// nopLogger discards all output; the zero-value default.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler       { return d }
func (d discardHandler) WithGroup(string) slog.Handler            { return d }

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger attaches a structured logger; debug logs are emitted when the
// store opens and for every Save, with timing (Load does not log). Defaults
// to discarding all output.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// New opens (creating if absent) a SQLite database at dbPath and ensures the
// snapshots table exists. SetMaxOpenConns(1) serializes all callers through
// one connection, matching the teacher's rationale: eliminate SQLITE_BUSY
// errors from concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("connectoragents/store/sqlite: open driver: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS snapshots (
			dir TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("connectoragents/store/sqlite: init schema: %w", err)
	}
	s.logger.Debug("sqlite snapshot store opened", "path", dbPath)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts the encoded snapshot for dir.
func (s *Store) Save(dir string, snap connectoragents.Snapshot) error {
	start := time.Now()
	data, err := connectoragents.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("connectoragents/store/sqlite: encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(context.Background(), `
		INSERT INTO snapshots (dir, data, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(dir) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		dir, string(data), time.Now().UnixMilli())
	s.logger.Debug("sqlite snapshot saved", "dir", dir, "bytes", len(data), "elapsed", time.Since(start))
	return err
}

// Load reads back the snapshot last saved under dir.
func (s *Store) Load(dir string) (connectoragents.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(context.Background(),
		`SELECT data FROM snapshots WHERE dir = ?`, dir).Scan(&data)
	if err == sql.ErrNoRows {
		return connectoragents.Snapshot{}, fmt.Errorf("connectoragents/store/sqlite: no snapshot saved under %q", dir)
	}
	if err != nil {
		return connectoragents.Snapshot{}, fmt.Errorf("connectoragents/store/sqlite: query snapshot: %w", err)
	}
	return connectoragents.UnmarshalSnapshot([]byte(data))
}
