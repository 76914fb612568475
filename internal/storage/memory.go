// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps messages in an ordered slice for the lifetime of the
// process.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	byID     map[string]int
	closed   bool

	now   func() time.Time
	newID func() string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]int),
		now:   defaultClock,
		newID: defaultID,
	}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, role Role, content string) (Message, error) {
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
	s.byID[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg, nil
}

// List implements Store. The returned slice is a copy.
func (s *MemoryStore) List(ctx context.Context) ([]Message, error) {
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
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.messages = nil
	s.byID = make(map[string]int)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (Message, error) {
	if err := checkContext(ctx); err != nil {
		return Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Message{}, ErrClosed
	}
	i, ok := s.byID[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return s.messages[i], nil
}

// Len returns the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.messages = nil
	s.byID = nil
	return nil
}
