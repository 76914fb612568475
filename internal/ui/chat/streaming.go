// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// DefaultMaxFPS caps provisional-answer redraws.
const DefaultMaxFPS = 30

// StreamingBuffer holds the latest provisional answer and releases it to
// the renderer at most maxFPS times per second. Deltas can arrive far
// faster than a terminal can redraw; intermediate states are skipped, the
// latest one always wins.
//
// Thread-safety: Set is called from the send goroutine while Flush runs in
// the Bubble Tea loop.
type StreamingBuffer struct {
	mu      sync.Mutex
	latest  string
	shown   string
	dirty   bool
	limiter *rate.Limiter
	maxFPS  int
}

// NewStreamingBuffer creates a buffer capped at maxFPS redraws per second.
// Values outside 1..60 use DefaultMaxFPS.
func NewStreamingBuffer(maxFPS int) *StreamingBuffer {
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = DefaultMaxFPS
	}
	return &StreamingBuffer{
		limiter: rate.NewLimiter(rate.Limit(maxFPS), 1),
		maxFPS:  maxFPS,
	}
}

// Set replaces the provisional text.
func (sb *StreamingBuffer) Set(text string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if text == sb.latest {
		return
	}
	sb.latest = text
	sb.dirty = text != sb.shown
}

// Flush returns the latest text when it changed since the last flush and
// the frame budget allows a redraw.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.dirty || !sb.limiter.Allow() {
		return "", false
	}
	return sb.takeLocked(), true
}

// ForceFlush returns the latest text regardless of the frame budget.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if !sb.dirty {
		return "", false
	}
	return sb.takeLocked(), true
}

func (sb *StreamingBuffer) takeLocked() string {
	sb.shown = sb.latest
	sb.dirty = false
	return sb.shown
}

// Shown returns the text last released by Flush.
func (sb *StreamingBuffer) Shown() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.shown
}

// Dirty reports whether unreleased text is waiting.
func (sb *StreamingBuffer) Dirty() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.dirty
}

// Reset drops all text, shown or pending.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.latest = ""
	sb.shown = ""
	sb.dirty = false
}

// FrameInterval is the tick period matching the frame cap.
func (sb *StreamingBuffer) FrameInterval() time.Duration {
	return time.Second / time.Duration(sb.maxFPS)
}

// StreamTickMsg drives redraws while a response is streaming.
type StreamTickMsg struct {
	Time time.Time
}

func streamTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
