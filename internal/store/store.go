// Package store is the durable relational layer: users, events (sessions),
// per-day traffic, and per-day system rollups.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a single database/sql handle guarded by a write mutex. SQLite
// only tolerates one writer at a time; session-engine ticks and HTTP mutation
// handlers both write, so every write-path operation takes mu before it
// touches the handle. Reads go through the handle directly — database/sql's
// connection pool already serializes against in-flight writes at the SQLite
// driver level, but the mutex removes any doubt about cross-table
// transactions stepping on each other.
type Store struct {
	db *sql.DB
	log *slog.Logger
	mu sync.Mutex
}

// Open creates (or reuses) the SQLite database at path and runs migrations.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	s.log.Info("running migrations")

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			peer_pubkey TEXT NOT NULL UNIQUE,
			client_ip TEXT UNIQUE,
			nickname TEXT,
			mail TEXT,
			phone TEXT,
			note TEXT,
			bandwidth_limit INTEGER NOT NULL DEFAULT 0,
			data_limit INTEGER NOT NULL DEFAULT 0,
			expiry_date TEXT,
			status INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			total_rx INTEGER NOT NULL DEFAULT 0,
			total_tx INTEGER NOT NULL DEFAULT 0,
			last_login TEXT,
			login_ip TEXT,
			wg_config TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_pubkey ON users(peer_pubkey)`,
		`CREATE INDEX IF NOT EXISTS idx_users_status_enabled ON users(status, enabled)`,

		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			start_time TEXT NOT NULL,
			end_time TEXT,
			last_update TEXT NOT NULL,
			session_rx INTEGER NOT NULL DEFAULT 0,
			session_tx INTEGER NOT NULL DEFAULT 0,
			login_ip TEXT,
			endpoint_info TEXT,
			status TEXT NOT NULL DEFAULT 'ONLINE',
			duration_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_start_time ON events(start_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status)`,

		`CREATE TABLE IF NOT EXISTS traffic_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			daily_rx INTEGER NOT NULL DEFAULT 0,
			daily_tx INTEGER NOT NULL DEFAULT 0,
			session_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traffic_date ON traffic_stats(date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_traffic_user_date ON traffic_stats(user_id, date)`,

		`CREATE TABLE IF NOT EXISTS system_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL UNIQUE,
			total_users INTEGER NOT NULL DEFAULT 0,
			active_users INTEGER NOT NULL DEFAULT 0,
			total_rx INTEGER NOT NULL DEFAULT 0,
			total_tx INTEGER NOT NULL DEFAULT 0,
			peak_concurrent INTEGER NOT NULL DEFAULT 0,
			avg_session_duration REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_system_stats_date ON system_stats(date DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// TimeFormat and DateFormat are the local-time string formats stored in
// every timestamp column.
const (
	TimeFormat = "2006-01-02 15:04:05"
	DateFormat = "2006-01-02"
)

func FormatTime(t time.Time) string {
	return t.Local().Format(TimeFormat)
}

func FormatDate(t time.Time) string {
	return t.Local().Format(DateFormat)
}
