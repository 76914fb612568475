// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Sentinel is the payload of the terminal frame.
const Sentinel = "[DONE]"

// ContentType is the media type of an encoded stream.
const ContentType = "text/event-stream"

type deltaFrame struct {
	Text string `json:"text"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// Encoder writes frames to w, flushing after each one when w supports it.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	frames  int
}

// NewEncoder returns an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// SetHeaders sets the SSE response headers. It must run before the first
// write to the response.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Delta writes one text frame.
func (e *Encoder) Delta(text string) error {
	return e.writeJSON(deltaFrame{Text: text})
}

// Error writes one error frame.
func (e *Encoder) Error(msg string) error {
	return e.writeJSON(errorFrame{Error: msg})
}

// Done writes the sentinel frame.
func (e *Encoder) Done() error {
	return e.writeFrame([]byte(Sentinel))
}

// Frames returns the number of frames written so far.
func (e *Encoder) Frames() int {
	return e.frames
}

func (e *Encoder) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return e.writeFrame(data)
}

func (e *Encoder) writeFrame(payload []byte) error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	e.frames++
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
