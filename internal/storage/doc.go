// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the ordered chat message store.
//
// The store is the single source of truth for the conversation. Every
// backend implements the same Store contract:
//
//   - Append assigns a fresh UUID and the current timestamp
//   - List returns messages ascending by timestamp, ties in insertion order
//   - Clear removes every message atomically
//   - Get is a point lookup used for diagnostics
//
// Messages are immutable once appended, so a List taken before an Append is
// never invalidated by it.
//
// # Backends
//
//   - MemoryStore: process-lifetime slice guarded by a mutex (default)
//   - FileStore: JSON snapshot written atomically on every change
//   - SQLiteStore: pure Go SQLite via modernc.org/sqlite
//
// # Usage
//
//	store, err := storage.Open(storage.KindMemory, "")
//	msg, err := store.Append(ctx, storage.RoleUser, "What is microgravity?")
//	history, err := store.List(ctx)
package storage
