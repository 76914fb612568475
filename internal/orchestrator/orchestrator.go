// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/OscarGarciaF/AetherFlow/internal/completion"
	"github.com/OscarGarciaF/AetherFlow/internal/logging"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

// MaxContentRunes bounds a single user message.
const MaxContentRunes = 32 * 1024

// =============================================================================
// COLLABORATORS
// =============================================================================

// Retriever finds supporting context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) (string, error)
}

// Completer opens a streaming completion.
type Completer interface {
	Configured() error
	Open(ctx context.Context, turns []completion.Turn) (completion.Stream, error)
}

// Sink receives the output of a streaming exchange. Start is called once,
// when STREAMING is entered; after it, exactly one of Done or Fail ends the
// stream unless a write fails first.
type Sink interface {
	Start() error
	Delta(text string) error
	Fail(msg string) error
	Done() error
}

// Settings are the per-exchange knobs that may change between exchanges.
type Settings struct {
	ContextPreamble string
	NoContext       string
	// MaxHistory forwards only the most recent N messages. 0 = all.
	MaxHistory int
	TopK       int
	// Timeout bounds the whole exchange. 0 disables the deadline.
	Timeout time.Duration
}

// Request is an incoming user message.
type Request struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result describes a completed exchange.
type Result struct {
	UserMessage storage.Message
	Answer      storage.Message
	Deltas      int
	ContextUsed bool
	Duration    time.Duration
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs exchanges against a shared store. It holds no
// per-exchange state and is safe for concurrent use.
type Orchestrator struct {
	store     storage.Store
	retriever Retriever
	completer Completer
	settings  func() Settings
	logger    *zap.Logger
	onState   func(State)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l).Named("orchestrator") }
}

// WithSettings supplies the settings source, read once per exchange.
func WithSettings(fn func() Settings) Option {
	return func(o *Orchestrator) { o.settings = fn }
}

// WithStateHook observes every state transition.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// New creates an orchestrator. retriever may be nil to disable retrieval.
func New(store storage.Store, retriever Retriever, completer Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		retriever: retriever,
		completer: completer,
		settings:  DefaultSettings,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate checks req and returns the normalised content. The content is
// trimmed and NFC-normalised so equivalent input is stored identically.
func Validate(req Request) (string, error) {
	if req.Role != string(storage.RoleUser) {
		return "", &Fault{
			Kind:   ClientFault,
			State:  StateIdle,
			Detail: "Invalid message format",
			Err:    fmt.Errorf("role must be %q, got %q", storage.RoleUser, req.Role),
		}
	}
	content := norm.NFC.String(strings.TrimSpace(req.Content))
	if content == "" {
		return "", &Fault{
			Kind:   ClientFault,
			State:  StateIdle,
			Detail: "Invalid message format",
			Err:    errors.New("content is empty"),
		}
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return "", &Fault{
			Kind:   ClientFault,
			State:  StateIdle,
			Detail: fmt.Sprintf("Message too long (%d characters, limit %d)", n, MaxContentRunes),
			Err:    fmt.Errorf("content has %d runes", n),
		}
	}
	return content, nil
}

// exchange carries the state of one Run.
type exchange struct {
	o      *Orchestrator
	state  State
	parent context.Context
	ctx    context.Context
	log    *zap.Logger
}

func (x *exchange) transition(to State) {
	if !CanTransition(x.state, to) {
		// Programming error; keep going but make it loud.
		x.log.Error("ILLEGAL_TRANSITION", zap.Stringer("from", x.state), zap.Stringer("to", to))
	}
	x.log.Debug("STATE_TRANSITION", zap.Stringer("from", x.state), zap.Stringer("to", to))
	x.state = to
	if x.o.onState != nil {
		x.o.onState(to)
	}
}

// fail moves to ERROR and builds the fault.
func (x *exchange) fail(kind FaultKind, streamed bool, err error) *Fault {
	f := &Fault{Kind: kind, State: x.state, Streamed: streamed, Err: err}
	x.transition(StateError)
	return f
}

// interrupted classifies a done context: the request context ending means
// the client left, our own deadline means timeout.
func (x *exchange) interrupted(streaming bool) *Fault {
	if x.parent.Err() != nil {
		return x.fail(Canceled, true, x.parent.Err())
	}
	f := x.fail(Timeout, streaming, x.ctx.Err())
	f.Detail = "Response timed out"
	return f
}

// Run executes one exchange, writing streamed output to sink. It returns
// a *Fault on failure; see Fault.Streamed for how it was reported.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	start := time.Now()
	settings := o.settings()

	x := &exchange{o: o, state: StateIdle, parent: ctx, ctx: ctx, log: o.logger}

	content, err := Validate(req)
	if err != nil {
		f, _ := AsFault(err)
		x.transition(StateError)
		o.logger.Info("REQUEST_REJECTED", zap.Error(f.Err))
		return nil, f
	}
	if err := o.completer.Configured(); err != nil {
		f := x.fail(ConfigurationFault, false, err)
		o.logger.Error("COMPLETION_NOT_CONFIGURED", zap.Error(err))
		return nil, f
	}

	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		x.ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}

	// PERSISTING_USER_MSG
	x.transition(StatePersistingUserMsg)
	userMsg, err := o.store.Append(x.ctx, storage.RoleUser, content)
	if err != nil {
		if x.ctx.Err() != nil {
			return nil, x.interrupted(false)
		}
		o.logger.Error("PERSIST_USER_FAILED", zap.Error(err))
		return nil, x.fail(PersistenceFault, false, err)
	}

	// RETRIEVING_CONTEXT
	x.transition(StateRetrievingContext)
	retrieved := o.retrieve(x.ctx, content, settings.TopK)
	if x.ctx.Err() != nil {
		return nil, x.interrupted(false)
	}

	// Snapshot after the append so the new message is part of the prompt.
	history, err := o.store.List(x.ctx)
	if err != nil {
		if x.ctx.Err() != nil {
			return nil, x.interrupted(false)
		}
		o.logger.Error("HISTORY_LOAD_FAILED", zap.Error(err))
		return nil, x.fail(PersistenceFault, false, err)
	}
	turns := BuildTurns(settings, retrieved, history)

	stream, err := o.completer.Open(x.ctx, turns)
	if err != nil {
		if x.ctx.Err() != nil {
			return nil, x.interrupted(false)
		}
		o.logger.Error("COMPLETION_OPEN_FAILED", zap.Error(err))
		return nil, x.fail(UpstreamCompletionFault, false, err)
	}
	defer stream.Close()

	// STREAMING
	x.transition(StateStreaming)
	if err := sink.Start(); err != nil {
		return nil, x.fail(Canceled, true, err)
	}

	var (
		answer strings.Builder
		deltas int
	)
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if x.ctx.Err() != nil {
			f := x.interrupted(true)
			o.abort(sink, f, deltas)
			return nil, f
		}
		if err != nil {
			f := x.fail(UpstreamCompletionFault, true, err)
			f.Detail = err.Error()
			o.abort(sink, f, deltas)
			return nil, f
		}

		if err := sink.Delta(delta); err != nil {
			f := x.fail(Canceled, true, err)
			o.abort(sink, f, deltas)
			return nil, f
		}
		answer.WriteString(delta)
		deltas++
	}

	// PERSISTING_ANSWER
	x.transition(StatePersistingAnswer)
	if x.ctx.Err() != nil {
		f := x.interrupted(true)
		o.abort(sink, f, deltas)
		return nil, f
	}
	answerMsg, err := o.store.Append(x.ctx, storage.RoleAssistant, answer.String())
	if err != nil {
		var f *Fault
		if x.ctx.Err() != nil {
			f = x.interrupted(true)
		} else {
			f = x.fail(PersistenceFault, true, err)
			f.Detail = "Failed to save response"
		}
		o.abort(sink, f, deltas)
		return nil, f
	}

	// DONE
	x.transition(StateDone)
	if err := sink.Done(); err != nil {
		// The answer is already stored; the client will see it on refetch.
		o.logger.Warn("SENTINEL_WRITE_FAILED", zap.Error(err))
	}

	result := &Result{
		UserMessage: userMsg,
		Answer:      answerMsg,
		Deltas:      deltas,
		ContextUsed: retrieved != "",
		Duration:    time.Since(start),
	}
	o.logger.Info("STREAM_COMPLETE",
		zap.String("answer_id", answerMsg.ID),
		zap.Int("deltas", deltas),
		zap.Int("chars", utf8.RuneCountInString(answerMsg.Content)),
		zap.Bool("context", result.ContextUsed),
		zap.Int("history", len(turns)-1),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// retrieve returns context for query, or "" when retrieval is disabled or
// fails. Failures never end the exchange.
func (o *Orchestrator) retrieve(ctx context.Context, query string, topK int) string {
	if o.retriever == nil {
		return ""
	}
	text, err := o.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("RETRIEVAL_FAILED",
				zap.Stringer("fault", UpstreamRetrievalFault),
				zap.Error(err),
			)
		}
		return ""
	}
	return text
}

// abort reports an in-stream failure. Canceled exchanges write nothing.
func (o *Orchestrator) abort(sink Sink, f *Fault, deltas int) {
	fields := []zap.Field{
		zap.Stringer("fault", f.Kind),
		zap.Stringer("state", f.State),
		zap.Int("discarded_deltas", deltas),
		zap.Error(f.Err),
	}
	if f.Kind == Canceled {
		o.logger.Info("STREAM_ABORTED", fields...)
		return
	}
	o.logger.Error("STREAM_FAILED", fields...)
	if err := sink.Fail(f.Message()); err != nil {
		o.logger.Debug("ERROR_FRAME_WRITE_FAILED", zap.Error(err))
	}
}
