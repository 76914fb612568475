// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns the same instant on every call so ordering falls back
// to insertion order.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// backends builds one store per backend with the given clock.
func backends(t *testing.T, clock func() time.Time) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "messages.json"))
	require.NoError(t, err)
	db, err := NewSQLiteStore(filepath.Join(dir, "messages.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore().WithClock(clock),
		"file":   file.WithClock(clock),
		"sqlite": db.WithClock(clock),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

// =============================================================================
// CONTRACT TESTS
// =============================================================================

func TestStore_AppendAssignsIdentity(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t, fixedClock(now)) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := s.Append(ctx, RoleUser, "What is microgravity?")
			require.NoError(t, err)
			b, err := s.Append(ctx, RoleAssistant, "A condition of apparent weightlessness.")
			require.NoError(t, err)

			assert.NotEmpty(t, a.ID)
			assert.NotEqual(t, a.ID, b.ID)
			assert.True(t, a.Timestamp.Equal(now))
			assert.Equal(t, RoleUser, a.Role)
			assert.Equal(t, "What is microgravity?", a.Content)
		})
	}
}

func TestStore_ListOrdersByTimestamp(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// Clock runs backwards for the second append to prove List sorts.
	times := []time.Time{base.Add(2 * time.Second), base, base.Add(5 * time.Second)}

	for _, name := range []string{"memory", "file", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			var i int
			clock := func() time.Time {
				ts := times[i%len(times)]
				i++
				return ts
			}
			s := backends(t, clock)[name]
			ctx := context.Background()

			for _, c := range []string{"second", "first", "third"} {
				_, err := s.Append(ctx, RoleUser, c)
				require.NoError(t, err)
			}

			msgs, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, "first", msgs[0].Content)
			assert.Equal(t, "second", msgs[1].Content)
			assert.Equal(t, "third", msgs[2].Content)
		})
	}
}

func TestStore_TiesKeepInsertionOrder(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t, fixedClock(now)) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := make([]string, 20)
			for i := range want {
				want[i] = fmt.Sprintf("msg-%02d", i)
				_, err := s.Append(ctx, RoleUser, want[i])
				require.NoError(t, err)
			}

			msgs, err := s.List(ctx)
			require.NoError(t, err)
			got := make([]string, len(msgs))
			for i, m := range msgs {
				got[i] = m.Content
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestStore_ClearEmptiesStore(t *testing.T) {
	for name, s := range backends(t, defaultClock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := s.Append(ctx, RoleUser, "hello")
				require.NoError(t, err)
			}
			require.NoError(t, s.Clear(ctx))

			msgs, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, msgs)

			// Clearing an empty store is fine.
			require.NoError(t, s.Clear(ctx))
		})
	}
}

func TestStore_Get(t *testing.T) {
	for name, s := range backends(t, defaultClock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msg, err := s.Append(ctx, RoleAssistant, "answer")
			require.NoError(t, err)

			got, err := s.Get(ctx, msg.ID)
			require.NoError(t, err)
			assert.Equal(t, msg.ID, got.ID)
			assert.Equal(t, msg.Content, got.Content)
			assert.True(t, msg.Timestamp.Equal(got.Timestamp))

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListDoesNotAliasInternalState(t *testing.T) {
	for name, s := range backends(t, defaultClock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Append(ctx, RoleUser, "original")
			require.NoError(t, err)

			snap, err := s.List(ctx)
			require.NoError(t, err)
			snap[0].Content = "mutated"

			_, err = s.Append(ctx, RoleAssistant, "reply")
			require.NoError(t, err)

			again, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, "original", again[0].Content)
			assert.Len(t, snap, 1, "earlier snapshot must not grow")
		})
	}
}

func TestStore_RejectsInvalidRole(t *testing.T) {
	for name, s := range backends(t, defaultClock) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Append(context.Background(), Role("system"), "x")
			assert.ErrorIs(t, err, ErrInvalidRole)
		})
	}
}

func TestStore_ClosedStoreFails(t *testing.T) {
	for name, s := range backends(t, defaultClock) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			_, err := s.Append(context.Background(), RoleUser, "x")
			assert.ErrorIs(t, err, ErrClosed)
			_, err = s.List(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	for name, s := range backends(t, defaultClock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 25; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.Append(ctx, RoleUser, fmt.Sprintf("msg-%d", i))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			msgs, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, msgs, 25)

			seen := make(map[string]bool)
			for _, m := range msgs {
				assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
				seen[m.ID] = true
			}
		})
	}
}

// =============================================================================
// BACKEND-SPECIFIC TESTS
// =============================================================================

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	require.NoError(t, err)
	first, err := s.Append(ctx, RoleUser, "persist me")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	msgs, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, "persist me", msgs[0].Content)
}

func TestFileStore_AppendFailureLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(filepath.Join(dir, "messages.json"))
	require.NoError(t, err)
	_, err = s.Append(ctx, RoleUser, "kept")
	require.NoError(t, err)

	// Point the store at a path whose parent is a regular file.
	s.path = filepath.Join(s.path, "nested", "messages.json")
	_, err = s.Append(ctx, RoleUser, "lost")
	require.ErrorIs(t, err, ErrUnavailable)

	msgs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.Append(ctx, RoleUser, "question")
	require.NoError(t, err)
	_, err = s.Append(ctx, RoleAssistant, "answer")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		kind Kind
		path string
		want string
	}{
		{KindMemory, "", "*storage.MemoryStore"},
		{"", "", "*storage.MemoryStore"},
		{KindFile, filepath.Join(dir, "m.json"), "*storage.FileStore"},
		{KindSQLite, filepath.Join(dir, "m.db"), "*storage.SQLiteStore"},
	}
	for _, tt := range tests {
		s, err := Open(tt.kind, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, fmt.Sprintf("%T", s))
		s.Close()
	}

	_, err := Open("redis", "")
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" User ")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, r)

	_, err = ParseRole("system")
	assert.ErrorIs(t, err, ErrInvalidRole)
}
