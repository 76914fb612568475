// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OscarGarciaF/AetherFlow/internal/storage"
	"github.com/OscarGarciaF/AetherFlow/internal/wire"
)

func newAPI(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return New(ts.URL + "/").WithHTTPClient(ts.Client())
}

func TestNew_Defaults(t *testing.T) {
	c := New("")
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, "http://host:1", New("http://host:1///").BaseURL())
}

func TestList(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]storage.Message{
			{ID: "1", Role: storage.RoleUser, Content: "hi", Timestamp: ts},
			{ID: "2", Role: storage.RoleAssistant, Content: "hello", Timestamp: ts},
		})
	})

	msgs, err := newAPI(t, mux).List(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, storage.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].Timestamp.Equal(ts))
}

func TestList_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"Failed to fetch messages"}`)
	})

	_, err := newAPI(t, mux).List(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Equal(t, "Failed to fetch messages", se.Message)
}

func TestGet_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "known" {
			_ = json.NewEncoder(w).Encode(storage.Message{ID: "known", Role: storage.RoleUser, Content: "x"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Message not found"}`)
	})
	c := newAPI(t, mux)

	msg, err := c.Get(context.Background(), "known")
	require.NoError(t, err)
	assert.Equal(t, "x", msg.Content)

	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClear(t *testing.T) {
	var cleared atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /messages", func(w http.ResponseWriter, r *http.Request) {
		cleared.Store(true)
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	require.NoError(t, newAPI(t, mux).Clear(context.Background()))
	assert.True(t, cleared.Load())
}

func TestClear_NotConfirmed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	assert.Error(t, newAPI(t, mux).Clear(context.Background()))
}

func TestHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"degraded","version":"0.3.0","store":"ok","retrieval":"not_configured","completion":"not_configured"}`)
	})

	h, err := newAPI(t, mux).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "0.3.0", h.Version)
	assert.Equal(t, "not_configured", h.Completion)
}

func TestStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/stream", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user", body["role"])
		assert.Equal(t, "What is microgravity?", body["content"])

		wire.SetHeaders(w.Header())
		enc := wire.NewEncoder(w)
		_ = enc.Delta("Hello")
		_ = enc.Delta(" world")
		_ = enc.Done()
	})

	body, err := newAPI(t, mux).Stream(context.Background(), "What is microgravity?")
	require.NoError(t, err)
	defer body.Close()

	var text string
	require.NoError(t, wire.Scan(body, func(ev wire.Event) bool {
		if ev.Kind == wire.EventDelta {
			text += ev.Text
		}
		return true
	}))
	assert.Equal(t, "Hello world", text)
}

func TestStream_StatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Invalid message format"}`)
	})

	_, err := newAPI(t, mux).Stream(context.Background(), "hi")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, "Invalid message format", se.Message)
}

func TestStream_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New(url).Stream(context.Background(), "hi")
	assert.Error(t, err)
}
