// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get when no message has the requested ID.
	ErrNotFound = errors.New("message not found")

	// ErrUnavailable wraps failures of the underlying storage medium.
	ErrUnavailable = errors.New("message store unavailable")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("message store closed")

	// ErrInvalidRole is returned by Append for roles other than user/assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole converts a wire role to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Message is a single persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is the ordered message collection shared by every exchange.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores a new message at the end of the collection.
	Append(ctx context.Context, role Role, content string) (Message, error)

	// List returns all messages ordered by timestamp ascending,
	// ties broken by insertion order.
	List(ctx context.Context) ([]Message, error)

	// Clear removes all messages atomically.
	Clear(ctx context.Context) error

	// Get returns the message with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (Message, error)

	// Close releases the backend.
	Close() error
}

// Kind names a Store backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
)

// Open creates the store backend of the given kind. path is ignored for
// the memory backend.
func Open(kind Kind, path string) (Store, error) {
	switch kind {
	case KindMemory, "":
		return NewMemoryStore(), nil
	case KindFile:
		return NewFileStore(path)
	case KindSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// defaultClock is the timestamp source for all backends.
func defaultClock() time.Time {
	return time.Now().UTC()
}

// defaultID generates a message identifier.
func defaultID() string {
	return uuid.NewString()
}

// sortByTime orders messages by timestamp. The sort is stable so messages
// with equal timestamps keep their insertion order.
func sortByTime(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// checkContext returns ctx.Err() if the context is already done.
func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
