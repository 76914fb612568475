// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OscarGarciaF/AetherFlow/internal/config"
)

func testClient(t *testing.T, url string) *Client {
	return New(config.CompletionConfig{
		Endpoint:    url,
		APIKey:      "az-test",
		Deployment:  "gpt-4o",
		APIVersion:  DefaultAPIVersion,
		Temperature: 1,
	}).WithLogger(zaptest.NewLogger(t))
}

func chunk(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": content}}},
	})
	return "data: " + string(b) + "\n\n"
}

// sseHandler streams frames verbatim and records the decoded request.
func sseHandler(t *testing.T, got *map[string]any, frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		assert.Equal(t, DefaultAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "az-test", r.Header.Get("api-key"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}
}

func collect(t *testing.T, s Stream) ([]string, error) {
	t.Helper()
	var deltas []string
	for {
		d, err := s.Recv()
		if err != nil {
			return deltas, err
		}
		deltas = append(deltas, d)
	}
}

func TestOpen_StreamsDeltas(t *testing.T) {
	var req map[string]any
	server := httptest.NewServer(sseHandler(t, &req,
		// Azure sends prompt filter results with no choices first.
		`data: {"id":"","object":"","choices":[],"prompt_filter_results":[{"prompt_index":0}]}`+"\n\n",
		`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`+"\n\n",
		chunk("Hello"),
		chunk(" world"),
		"data: [DONE]\n\n",
	))
	defer server.Close()

	stream, err := testClient(t, server.URL).Open(context.Background(), []Turn{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "Say hello"},
	})
	require.NoError(t, err)
	defer stream.Close()

	deltas, err := collect(t, stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hello", " world"}, deltas)

	assert.Equal(t, true, req["stream"])
	assert.EqualValues(t, 1, req["temperature"])
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "Say hello", msgs[1].(map[string]any)["content"])
}

func TestOpen_ProviderRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"401","message":"Access denied due to invalid subscription key."}}`))
	}))
	defer server.Close()

	stream, err := testClient(t, server.URL).Open(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Nil(t, stream)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr), "err = %v", err)
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
	assert.Contains(t, perr.Message, "Access denied")
}

func TestStream_AbruptDisconnectIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, chunk("partial"))
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if assert.NoError(t, err) {
			conn.Close()
		}
	}))
	defer server.Close()

	stream, err := testClient(t, server.URL).Open(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	defer stream.Close()

	deltas, err := collect(t, stream)
	assert.Equal(t, []string{"partial"}, deltas)
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF), "abrupt end must not look like completion: %v", err)
}

func TestOpen_NotConfigured(t *testing.T) {
	c := New(config.CompletionConfig{Endpoint: "https://example.openai.azure.com"})

	err := c.Configured()
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.True(t, strings.Contains(err.Error(), "AZURE_OPENAI_API_KEY"))
	assert.True(t, strings.Contains(err.Error(), "AZURE_OPENAI_DEPLOYMENT_NAME"))

	_, err = c.Open(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpen_NoTurns(t *testing.T) {
	_, err := testClient(t, "http://127.0.0.1:1").Open(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTurns)
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil, chunk("x"), "data: [DONE]\n\n"))
	defer server.Close()

	stream, err := testClient(t, server.URL).Open(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestWrapProviderError_PassesContextErrors(t *testing.T) {
	assert.ErrorIs(t, wrapProviderError(context.Canceled), context.Canceled)
	assert.ErrorIs(t, wrapProviderError(fmt.Errorf("read: %w", context.DeadlineExceeded)), context.DeadlineExceeded)
	assert.Nil(t, wrapProviderError(nil))

	var perr *ProviderError
	assert.True(t, errors.As(wrapProviderError(errors.New("dial tcp: refused")), &perr))
	assert.Equal(t, 0, perr.Status)
}
