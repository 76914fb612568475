// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SQLITE STORE
// =============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL UNIQUE,
	role       TEXT    NOT NULL CHECK (role IN ('user', 'assistant')),
	content    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at, seq);
`

// SQLiteStore persists messages in a SQLite database. The AUTOINCREMENT
// sequence column records insertion order for timestamp ties.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool

	now   func() time.Time
	newID func() string
}

// DefaultSQLitePath returns ~/.aetherflow/messages.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aetherflow", "messages.db"), nil
}

// NewSQLiteStore opens (or creates) the database at path. An empty path
// selects DefaultSQLitePath.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		p, err := DefaultSQLitePath()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		path = p
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrUnavailable, err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %v", ErrUnavailable, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", ErrUnavailable, err)
	}

	return &SQLiteStore{
		db:    db,
		now:   defaultClock,
		newID: defaultID,
	}, nil
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *SQLiteStore) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, string(msg.Role), msg.Content, msg.Timestamp.UnixNano())
	if err != nil {
		return Message{}, wrapSQL(err)
	}
	return msg, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, wrapSQL(err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapSQL(err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQL(err)
	}
	return msgs, nil
}

// Clear implements Store. A single DELETE is atomic.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return wrapSQL(err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return Message{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, role, content, created_at FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, wrapSQL(err)
	}
	return msg, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var (
		msg     Message
		role    string
		created int64
	)
	if err := r.Scan(&msg.ID, &role, &msg.Content, &created); err != nil {
		return Message{}, err
	}
	msg.Role = Role(role)
	msg.Timestamp = time.Unix(0, created).UTC()
	return msg, nil
}

// wrapSQL tags driver errors as ErrUnavailable, leaving context errors as-is.
func wrapSQL(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
