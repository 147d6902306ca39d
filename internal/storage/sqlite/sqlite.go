// Package sqlite provides a single-file SQLite storage backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goodtune/patrol/internal/storage"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS active_sessions (
	guild_id   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	PRIMARY KEY (guild_id, user_id)
);

CREATE TABLE IF NOT EXISTS alltime_totals (
	guild_id TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	total_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (guild_id, user_id)
);

CREATE TABLE IF NOT EXISTS monthly_totals (
	guild_id TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	year     INTEGER NOT NULL,
	month    INTEGER NOT NULL,
	total_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (guild_id, user_id, year, month)
);

CREATE TABLE IF NOT EXISTS channel_totals (
	guild_id   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	total_ms   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (guild_id, user_id, channel_id)
);

CREATE TABLE IF NOT EXISTS paused_guilds (
	guild_id TEXT NOT NULL PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS paused_users (
	guild_id TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	PRIMARY KEY (guild_id, user_id)
);
`

// Store implements the storage.Store interface using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite-backed store, creating the file and schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := ensureDir(cleanPath); err != nil {
		return nil, err
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sessions returns the active session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{db: s.db} }

// Totals returns the totals store.
func (s *Store) Totals() storage.TotalsStore { return &totalsStore{db: s.db} }

// Pauses returns the pause store.
func (s *Store) Pauses() storage.PauseStore { return &pauseStore{db: s.db} }

// withTx runs fn inside a transaction, committing only if fn succeeds.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func clampMs(value int64) uint64 {
	if value < 0 {
		return 0
	}
	return uint64(value)
}
