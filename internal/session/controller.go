// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/OscarGarciaF/AetherFlow/internal/logging"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
	"github.com/OscarGarciaF/AetherFlow/internal/wire"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned by Send while another send is in flight.
	ErrBusy = errors.New("a response is still streaming")

	// ErrNotLoaded is returned by Send before Load has completed.
	ErrNotLoaded = errors.New("history not loaded")

	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// StreamError is an error frame received mid-stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// =============================================================================
// API
// =============================================================================

// API is the server surface the controller needs. *client.Client
// implements it.
type API interface {
	List(ctx context.Context) ([]storage.Message, error)
	Clear(ctx context.Context) error
	Stream(ctx context.Context, content string) (io.ReadCloser, error)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	// Messages is the persisted history as last fetched.
	Messages []storage.Message
	// Pending is the user text of the in-flight send.
	Pending string
	// Streaming is the partial answer. It is never part of Messages.
	Streaming string
	Busy      bool
	Loaded    bool
	// Err is the error of the last failed operation, cleared by the next
	// successful send.
	Err error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives one client conversation. It is safe for concurrent use.
type Controller struct {
	api         API
	clearOnLoad bool
	logger      *zap.Logger

	mu       sync.Mutex
	messages []storage.Message
	pending  string
	buffer   strings.Builder
	busy     bool
	loaded   bool
	lastErr  error
	onChange func(Snapshot)
}

// NewController creates a controller over api.
func NewController(api API) *Controller {
	return &Controller{
		api:         api,
		clearOnLoad: true,
		logger:      zap.NewNop(),
	}
}

// WithLogger sets the logger.
func (c *Controller) WithLogger(l *zap.Logger) *Controller {
	c.logger = logging.OrNop(l).Named("session")
	return c
}

// WithClearOnLoad controls whether Load clears the server history first.
func (c *Controller) WithClearOnLoad(clear bool) *Controller {
	c.clearOnLoad = clear
	return c
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]storage.Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		Messages:  msgs,
		Pending:   c.pending,
		Streaming: c.buffer.String(),
		Busy:      c.busy,
		Loaded:    c.loaded,
		Err:       c.lastErr,
	}
}

// update applies fn under the lock and then notifies the listener.
func (c *Controller) update(fn func()) {
	c.mu.Lock()
	fn()
	snap := c.snapshotLocked()
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
}

// Load prepares the conversation: it clears the server history (unless
// disabled) and fetches the persisted list. Send is refused until Load
// succeeds.
func (c *Controller) Load(ctx context.Context) error {
	if c.clearOnLoad {
		if err := c.api.Clear(ctx); err != nil {
			c.logger.Warn("CLEAR_ON_LOAD_FAILED", zap.Error(err))
			c.update(func() { c.lastErr = err })
			return fmt.Errorf("failed to clear history: %w", err)
		}
	}
	return c.Refresh(ctx)
}

// Refresh re-fetches the persisted history.
func (c *Controller) Refresh(ctx context.Context) error {
	msgs, err := c.api.List(ctx)
	if err != nil {
		c.logger.Warn("HISTORY_FETCH_FAILED", zap.Error(err))
		c.update(func() { c.lastErr = err })
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	c.update(func() {
		c.messages = msgs
		c.loaded = true
	})
	return nil
}

// Clear deletes the server history and empties the local mirror.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	busy := c.busy
	c.mu.Unlock()
	if busy {
		return ErrBusy
	}
	if err := c.api.Clear(ctx); err != nil {
		c.update(func() { c.lastErr = err })
		return fmt.Errorf("failed to clear history: %w", err)
	}
	c.update(func() {
		c.messages = nil
		c.lastErr = nil
	})
	return nil
}

// Send posts content and consumes the answer stream. It blocks until the
// stream ends. On success the persisted list is re-fetched; on failure the
// partial answer is dropped and the list is left as it was.
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	switch {
	case !c.loaded:
		c.mu.Unlock()
		return ErrNotLoaded
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.mu.Unlock()

	c.update(func() {
		c.pending = content
		c.buffer.Reset()
		c.lastErr = nil
	})

	err := c.stream(ctx, content)
	if err != nil {
		c.logger.Warn("SEND_FAILED", zap.Error(err))
		c.finish(err)
		return err
	}

	msgs, err := c.api.List(ctx)
	if err != nil {
		c.logger.Warn("HISTORY_FETCH_FAILED", zap.Error(err))
		err = fmt.Errorf("failed to fetch history: %w", err)
		c.finish(err)
		return err
	}
	c.update(func() {
		c.messages = msgs
		c.busy = false
		c.pending = ""
		c.buffer.Reset()
	})
	return nil
}

// finish ends a failed send.
func (c *Controller) finish(err error) {
	c.update(func() {
		c.busy = false
		c.pending = ""
		c.buffer.Reset()
		c.lastErr = err
	})
}

// stream reads the answer until the sentinel. The buffer is reset once the
// sentinel arrives.
func (c *Controller) stream(ctx context.Context, content string) error {
	body, err := c.api.Stream(ctx, content)
	if err != nil {
		return err
	}
	defer body.Close()

	var frameErr error
	scanErr := wire.Scan(body, func(ev wire.Event) bool {
		switch ev.Kind {
		case wire.EventDelta:
			c.update(func() { c.buffer.WriteString(ev.Text) })
		case wire.EventError:
			frameErr = &StreamError{Message: ev.Text}
		case wire.EventDone:
			c.update(func() { c.buffer.Reset() })
		}
		return true
	})
	if frameErr != nil {
		return frameErr
	}
	if scanErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return scanErr
	}
	return nil
}

// Busy reports whether a send is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Messages returns a copy of the persisted history.
func (c *Controller) Messages() []storage.Message {
	return c.Snapshot().Messages
}
