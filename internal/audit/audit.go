// Package audit provides an append-only SQLite mirror of committed
// membership events, grounded on the migrations-as-statements and
// Upsert/Get-on-a-DB-wrapper convention used for local persistence.
// This trail is diagnostic only: a seed's committed peer list is never
// reconstructed from persistent storage across restarts, so nothing in
// this package is ever read back to reconstruct a seed's in-memory PL.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS register_commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer_id TEXT NOT NULL,
		proposer_id TEXT NOT NULL,
		committed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS death_commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		victim_id TEXT NOT NULL,
		proposer_id TEXT NOT NULL,
		confirmed_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_register_commits_peer ON register_commits(peer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_death_commits_victim ON death_commits(victim_id)`,
}

// Store wraps a SQLite handle holding the append-only commit trail.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at path and runs
// migrations. Pass ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("audit: migrate: %w", err)
		}
	}
	return nil
}

// RecordRegisterCommit appends a committed registration to the trail.
func (s *Store) RecordRegisterCommit(ctx context.Context, peerID, proposerID string, committedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO register_commits (peer_id, proposer_id, committed_at) VALUES (?, ?, ?)`,
		peerID, proposerID, committedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("audit: record register commit: %w", err)
	}
	return nil
}

// RecordDeathConfirmed appends a confirmed death to the trail.
func (s *Store) RecordDeathConfirmed(ctx context.Context, victimID, proposerID string, confirmedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO death_commits (victim_id, proposer_id, confirmed_at) VALUES (?, ?, ?)`,
		victimID, proposerID, confirmedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("audit: record death confirmed: %w", err)
	}
	return nil
}

// RegisterCommitCount returns how many times peerID has ever been
// committed (diagnostic only — re-registration after a purge is a normal
// occurrence and will show as count > 1).
func (s *Store) RegisterCommitCount(ctx context.Context, peerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM register_commits WHERE peer_id = ?`, peerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("audit: count register commits: %w", err)
	}
	return n, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
