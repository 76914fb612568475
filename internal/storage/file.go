// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OscarGarciaF/AetherFlow/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// snapshotVersion is bumped when the on-disk layout changes.
const snapshotVersion = 1

// snapshot is the on-disk JSON document.
type snapshot struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// FileStore persists the conversation as a single JSON document. Every
// mutation rewrites the document with util.AtomicWriteFile, so a crash
// leaves either the previous or the new snapshot on disk.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	messages []Message
	closed   bool

	now   func() time.Time
	newID func() string
}

// DefaultFilePath returns ~/.aetherflow/messages.json.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aetherflow", "messages.json"), nil
}

// NewFileStore opens (or creates) the snapshot at path. An empty path
// selects DefaultFilePath.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultFilePath()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		path = p
	}

	s := &FileStore{
		path:  path,
		now:   defaultClock,
		newID: defaultID,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: corrupt snapshot %s: %v", ErrUnavailable, s.path, err)
	}
	if snap.Version > snapshotVersion {
		return fmt.Errorf("%w: snapshot version %d is newer than supported %d",
			ErrUnavailable, snap.Version, snapshotVersion)
	}
	s.messages = snap.Messages
	return nil
}

// persist writes msgs to disk. Caller holds s.mu.
func (s *FileStore) persist(msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.MarshalIndent(snapshot{
		Version:   snapshotVersion,
		UpdatedAt: s.now(),
		Messages:  msgs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Append implements Store. The in-memory copy only changes once the
// snapshot has been written.
func (s *FileStore) Append(ctx context.Context, role Role, content string) (Message, error) {
	if err := checkContext(ctx); err != nil {
		return Message{}, err
	}
	if !role.Valid() {
		return Message{}, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Message{}, ErrClosed
	}

	msg := Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	next := make([]Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	next = append(next, msg)

	if err := s.persist(next); err != nil {
		return Message{}, err
	}
	s.messages = next
	return msg, nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context) ([]Message, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	sortByTime(out)
	return out, nil
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.persist(nil); err != nil {
		return err
	}
	s.messages = nil
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, id string) (Message, error) {
	if err := checkContext(ctx); err != nil {
		return Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Message{}, ErrClosed
	}
	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return Message{}, ErrNotFound
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
