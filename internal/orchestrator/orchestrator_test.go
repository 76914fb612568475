// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/OscarGarciaF/AetherFlow/internal/completion"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FAKES
// =============================================================================

// scriptedStream replays deltas, then ends with io.EOF, failErr, or (when
// block is set) waits for the context.
type scriptedStream struct {
	ctx       context.Context
	deltas    []string
	failAfter int
	failErr   error
	block     bool

	i      int
	closed bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.failErr != nil && s.i == s.failAfter {
		return "", s.failErr
	}
	if s.i < len(s.deltas) {
		d := s.deltas[s.i]
		s.i++
		return d, nil
	}
	if s.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeCompleter struct {
	mu        sync.Mutex
	configErr error
	openErr   error
	script    scriptedStream
	turns     [][]completion.Turn
	streams   []*scriptedStream
}

func (c *fakeCompleter) Configured() error { return c.configErr }

func (c *fakeCompleter) Open(ctx context.Context, turns []completion.Turn) (completion.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns)
	if c.openErr != nil {
		return nil, c.openErr
	}
	s := c.script
	s.ctx = ctx
	c.streams = append(c.streams, &s)
	return &s, nil
}

func (c *fakeCompleter) lastTurns() []completion.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) == 0 {
		return nil
	}
	return c.turns[len(c.turns)-1]
}

type fakeRetriever struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	topK  int
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.topK = topK
	return r.text, r.err
}

// recordingSink captures frames. failOnDelta makes the Nth Delta (1-based)
// fail as if the client had gone away.
type recordingSink struct {
	mu          sync.Mutex
	started     bool
	deltas      []string
	fails       []string
	done        int
	failOnDelta int
	startErr    error
}

func (s *recordingSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.startErr
}

func (s *recordingSink) Delta(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnDelta > 0 && len(s.deltas)+1 == s.failOnDelta {
		return io.ErrClosedPipe
	}
	s.deltas = append(s.deltas, text)
	return nil
}

func (s *recordingSink) Fail(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = append(s.fails, msg)
	return nil
}

func (s *recordingSink) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	return nil
}

// flakyStore fails the Nth Append (1-based).
type flakyStore struct {
	storage.Store
	mu       sync.Mutex
	appends  int
	failOn   int
	failList bool
}

func (s *flakyStore) Append(ctx context.Context, role storage.Role, content string) (storage.Message, error) {
	s.mu.Lock()
	s.appends++
	n := s.appends
	s.mu.Unlock()
	if n == s.failOn {
		return storage.Message{}, fmt.Errorf("%w: disk full", storage.ErrUnavailable)
	}
	return s.Store.Append(ctx, role, content)
}

func (s *flakyStore) List(ctx context.Context) ([]storage.Message, error) {
	if s.failList {
		return nil, storage.ErrUnavailable
	}
	return s.Store.List(ctx)
}

type harness struct {
	store     *storage.MemoryStore
	retriever *fakeRetriever
	completer *fakeCompleter
	sink      *recordingSink
	states    []State
	settings  Settings
}

func newHarness(t *testing.T) *harness {
	return &harness{
		store:     storage.NewMemoryStore(),
		retriever: &fakeRetriever{},
		completer: &fakeCompleter{},
		sink:      &recordingSink{},
		settings:  DefaultSettings(),
	}
}

func (h *harness) orchestrator(t *testing.T, store storage.Store) *Orchestrator {
	if store == nil {
		store = h.store
	}
	return New(store, h.retriever, h.completer,
		WithLogger(zaptest.NewLogger(t)),
		WithSettings(func() Settings { return h.settings }),
		WithStateHook(func(s State) { h.states = append(h.states, s) }),
	)
}

func (h *harness) messages(t *testing.T) []storage.Message {
	msgs, err := h.store.List(context.Background())
	require.NoError(t, err)
	return msgs
}

func userRequest(content string) Request {
	return Request{Role: "user", Content: content}
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestRun_MicrogravityEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.retriever.text = "Microgravity is the condition in which objects appear weightless."
	h.completer.script = scriptedStream{deltas: []string{"Micro", "gravity is ", "apparent weightlessness."}}

	res, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("What is microgravity?"), h.sink)
	require.NoError(t, err)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is microgravity?", msgs[0].Content)
	assert.Equal(t, storage.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Microgravity is apparent weightlessness.", msgs[1].Content)

	assert.True(t, h.sink.started)
	assert.Equal(t, []string{"Micro", "gravity is ", "apparent weightlessness."}, h.sink.deltas)
	assert.Equal(t, 1, h.sink.done)
	assert.Empty(t, h.sink.fails)

	turns := h.completer.lastTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, completion.RoleSystem, turns[0].Role)
	assert.Equal(t,
		"You are a helpful assistant. Use the following context to answer the user's questions:\n\n"+h.retriever.text,
		turns[0].Content)
	assert.Equal(t, completion.Turn{Role: completion.RoleUser, Content: "What is microgravity?"}, turns[1])

	assert.Equal(t, []State{
		StatePersistingUserMsg, StateRetrievingContext, StateStreaming, StatePersistingAnswer, StateDone,
	}, h.states)

	assert.Equal(t, 3, res.Deltas)
	assert.True(t, res.ContextUsed)
	assert.Equal(t, msgs[1].ID, res.Answer.ID)
	assert.Equal(t, 5, h.retriever.topK)
	assert.True(t, h.completer.streams[0].closed)
}

func TestRun_HistoryIncludedInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.store.Append(ctx, storage.RoleUser, "first question")
	_, _ = h.store.Append(ctx, storage.RoleAssistant, "first answer")
	h.completer.script = scriptedStream{deltas: []string{"second answer"}}

	_, err := h.orchestrator(t, nil).Run(ctx, userRequest("second question"), h.sink)
	require.NoError(t, err)

	turns := h.completer.lastTurns()
	require.Len(t, turns, 4)
	assert.Equal(t, "first question", turns[1].Content)
	assert.Equal(t, completion.RoleAssistant, turns[2].Role)
	assert.Equal(t, "second question", turns[3].Content)
	assert.Len(t, h.messages(t), 4)
}

func TestRun_HistoryWindow(t *testing.T) {
	h := newHarness(t)
	h.settings.MaxHistory = 2
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _ = h.store.Append(ctx, storage.RoleUser, fmt.Sprintf("old %d", i))
	}
	h.completer.script = scriptedStream{deltas: []string{"ok"}}

	_, err := h.orchestrator(t, nil).Run(ctx, userRequest("newest"), h.sink)
	require.NoError(t, err)

	turns := h.completer.lastTurns()
	require.Len(t, turns, 3)
	assert.Equal(t, "old 3", turns[1].Content)
	assert.Equal(t, "newest", turns[2].Content)
}

func TestRun_NormalisesContent(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{deltas: []string{"ok"}}

	// "e" + combining acute accent becomes the precomposed "é".
	_, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("  cafe\u0301  "), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", h.messages(t)[0].Content)
}

func TestRun_NilRetriever(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{deltas: []string{"ok"}}

	o := New(h.store, nil, h.completer, WithLogger(zaptest.NewLogger(t)))
	res, err := o.Run(context.Background(), userRequest("hi"), h.sink)
	require.NoError(t, err)
	assert.False(t, res.ContextUsed)
	assert.Equal(t, "You are a helpful assistant.", h.completer.lastTurns()[0].Content)
}

// =============================================================================
// RETRIEVAL FAILURE
// =============================================================================

func TestRun_RetrievalFailureStillAnswers(t *testing.T) {
	h := newHarness(t)
	h.retriever.err = errors.New("retrieval service error (HTTP 503)")
	h.completer.script = scriptedStream{deltas: []string{"Answer ", "without context."}}

	res, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("What is microgravity?"), h.sink)
	require.NoError(t, err)
	assert.False(t, res.ContextUsed)

	turns := h.completer.lastTurns()
	assert.Equal(t, "You are a helpful assistant.", turns[0].Content)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Answer without context.", msgs[1].Content)
	assert.Equal(t, 1, h.sink.done)
}

// =============================================================================
// VALIDATION AND CONFIGURATION
// =============================================================================

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty content", Request{Role: "user", Content: ""}},
		{"whitespace content", Request{Role: "user", Content: " \n\t "}},
		{"assistant role", Request{Role: "assistant", Content: "hi"}},
		{"missing role", Request{Content: "hi"}},
		{"too long", Request{Role: "user", Content: strings.Repeat("a", MaxContentRunes+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.orchestrator(t, nil).Run(context.Background(), tt.req, h.sink)

			require.ErrorIs(t, err, ErrClientFault)
			f, ok := AsFault(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, f.HTTPStatus())
			assert.False(t, f.Streamed)
			assert.Equal(t, StateIdle, f.State)

			assert.Empty(t, h.messages(t), "store must be untouched")
			assert.False(t, h.sink.started)
			assert.Equal(t, 0, h.retriever.calls)
			assert.Equal(t, []State{StateError}, h.states)
		})
	}
}

func TestRun_MissingCredentials(t *testing.T) {
	h := newHarness(t)
	h.completer.configErr = completion.ErrNotConfigured

	_, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrConfigurationFault)
	assert.ErrorIs(t, err, completion.ErrNotConfigured)

	f, _ := AsFault(err)
	assert.Equal(t, http.StatusInternalServerError, f.HTTPStatus())
	assert.Equal(t, "API credentials not configured", f.Message())
	assert.Empty(t, h.messages(t))
	assert.False(t, h.sink.started)
}

// =============================================================================
// UPSTREAM FAILURES
// =============================================================================

func TestRun_OpenFailureIsPlainError(t *testing.T) {
	h := newHarness(t)
	h.completer.openErr = &completion.ProviderError{Status: 401, Message: "Access denied"}

	_, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrUpstreamCompletionFault)

	f, _ := AsFault(err)
	assert.False(t, f.Streamed)
	assert.Equal(t, http.StatusBadGateway, f.HTTPStatus())
	assert.Equal(t, StateRetrievingContext, f.State)
	assert.False(t, h.sink.started, "headers must not be committed")
	assert.Empty(t, h.sink.fails)

	// The user message was persisted before the provider was contacted.
	assert.Len(t, h.messages(t), 1)
}

func TestRun_ProviderFailsMidStream(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{
		deltas:    []string{"one", "two", "three"},
		failAfter: 2,
		failErr:   &completion.ProviderError{Message: "unexpected EOF"},
	}

	_, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrUpstreamCompletionFault)

	f, _ := AsFault(err)
	assert.True(t, f.Streamed)
	assert.Equal(t, StateStreaming, f.State)

	assert.Equal(t, []string{"one", "two"}, h.sink.deltas)
	require.Len(t, h.sink.fails, 1)
	assert.Contains(t, h.sink.fails[0], "unexpected EOF")
	assert.Equal(t, 0, h.sink.done, "no sentinel after an error frame")

	msgs := h.messages(t)
	require.Len(t, msgs, 1, "partial answer must be discarded")
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
}

// =============================================================================
// ABORT AND DISCONNECT
// =============================================================================

func TestRun_ClientAbortAfterTwoOfFiveDeltas(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{deltas: []string{"a", "b", "c", "d", "e"}}
	h.sink.failOnDelta = 3

	_, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrCanceled)

	f, _ := AsFault(err)
	assert.True(t, f.Streamed, "nothing may be written after a disconnect")
	assert.Equal(t, []string{"a", "b"}, h.sink.deltas)
	assert.Empty(t, h.sink.fails)
	assert.Equal(t, 0, h.sink.done)

	// Stopped reading: the stream was not drained.
	require.Len(t, h.completer.streams, 1)
	assert.Equal(t, 3, h.completer.streams[0].i)
	assert.True(t, h.completer.streams[0].closed)

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
}

func TestRun_RequestContextCanceledMidStream(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{deltas: []string{"a", "b"}, block: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.orchestrator(t, nil).Run(ctx, userRequest("hi"), h.sink)
		done <- err
	}()

	require.Eventually(t, func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return len(h.sink.deltas) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, ErrCanceled)
	assert.Empty(t, h.sink.fails)
	assert.Equal(t, 0, h.sink.done)
	assert.Len(t, h.messages(t), 1)
}

func TestRun_SinkStartFails(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{deltas: []string{"a"}}
	h.sink.startErr = io.ErrClosedPipe

	_, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrCanceled)
	assert.Empty(t, h.sink.deltas)
	assert.Len(t, h.messages(t), 1)
}

func TestRun_Timeout(t *testing.T) {
	h := newHarness(t)
	h.settings.Timeout = 50 * time.Millisecond
	h.completer.script = scriptedStream{deltas: []string{"slow"}, block: true}

	_, err := h.orchestrator(t, nil).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrTimeout)

	f, _ := AsFault(err)
	assert.True(t, f.Streamed)
	require.Len(t, h.sink.fails, 1)
	assert.Equal(t, "Response timed out", h.sink.fails[0])
	assert.Equal(t, 0, h.sink.done)
	assert.Len(t, h.messages(t), 1)
}

// =============================================================================
// PERSISTENCE FAILURES
// =============================================================================

func TestRun_UserPersistFailure(t *testing.T) {
	h := newHarness(t)
	store := &flakyStore{Store: h.store, failOn: 1}

	_, err := h.orchestrator(t, store).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrPersistenceFault)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	f, _ := AsFault(err)
	assert.False(t, f.Streamed)
	assert.Equal(t, http.StatusInternalServerError, f.HTTPStatus())
	assert.Equal(t, StatePersistingUserMsg, f.State)
	assert.Equal(t, 0, h.retriever.calls)
}

func TestRun_HistoryLoadFailure(t *testing.T) {
	h := newHarness(t)
	store := &flakyStore{Store: h.store, failList: true}

	_, err := h.orchestrator(t, store).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrPersistenceFault)
	f, _ := AsFault(err)
	assert.False(t, f.Streamed)
	assert.False(t, h.sink.started)
}

func TestRun_AnswerPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{deltas: []string{"full ", "answer"}}
	store := &flakyStore{Store: h.store, failOn: 2}

	_, err := h.orchestrator(t, store).Run(context.Background(), userRequest("hi"), h.sink)
	require.ErrorIs(t, err, ErrPersistenceFault)

	f, _ := AsFault(err)
	assert.True(t, f.Streamed)
	assert.Equal(t, StatePersistingAnswer, f.State)
	assert.Equal(t, []string{"Failed to save response"}, h.sink.fails)
	assert.Equal(t, 0, h.sink.done)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRun_ConcurrentExchangesShareStore(t *testing.T) {
	h := newHarness(t)
	h.completer.script = scriptedStream{deltas: []string{"ok"}}
	o := New(h.store, h.retriever, h.completer, WithLogger(zaptest.NewLogger(t)))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.Run(context.Background(), userRequest(fmt.Sprintf("q%d", i)), &recordingSink{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.messages(t), 20)
}
