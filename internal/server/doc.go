// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the conversation over HTTP.
//
// # Endpoints
//
//   - GET    /messages         - Persisted history, oldest first
//   - GET    /messages/{id}    - A single message
//   - POST   /messages/stream  - Send a user message; the answer streams back as SSE
//   - DELETE /messages         - Clear the history
//   - GET    /health           - Health check
//
// Every route is also served under /api.
//
// # Streaming
//
// POST /messages/stream answers with plain JSON errors (400, 500, 502) for
// failures found before the first frame. Once the stream has started, a
// failure is reported as a single {"error": ...} frame and the stream ends
// without the [DONE] sentinel. A client that disconnects gets nothing.
//
// # Usage
//
//	srv := server.New(store, orch, config.NewHolder(cfg)).WithLogger(logger)
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package server
