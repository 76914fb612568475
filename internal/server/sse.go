// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"

	"github.com/OscarGarciaF/AetherFlow/internal/wire"
)

// sseSink writes an exchange to an HTTP response as wire frames.
type sseSink struct {
	w       http.ResponseWriter
	enc     *wire.Encoder
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w}
}

// Start commits the 200 status and SSE headers.
func (s *sseSink) Start() error {
	wire.SetHeaders(s.w.Header())
	s.w.WriteHeader(http.StatusOK)
	s.started = true
	s.enc = wire.NewEncoder(s.w)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (s *sseSink) Delta(text string) error { return s.enc.Delta(text) }

func (s *sseSink) Fail(msg string) error { return s.enc.Error(msg) }

func (s *sseSink) Done() error { return s.enc.Done() }
