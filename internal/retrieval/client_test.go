// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OscarGarciaF/AetherFlow/internal/config"
)

func testConfig(baseURL string) config.RetrievalConfig {
	return config.RetrievalConfig{
		BaseURL:        baseURL,
		APIKey:         "llx-test",
		IndexName:      "space-biology",
		ProjectName:    "Default",
		SimilarityTopK: 5,
		TimeoutSecs:    5,
	}
}

func TestRetrieve_JoinsPassagesInOrder(t *testing.T) {
	var got searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SearchPath, r.URL.Path)
		assert.Equal(t, "Bearer llx-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"retrieval_nodes":[
			{"node":{"text":"Microgravity alters bone density."},"score":0.9},
			{"text":"Plants grow differently in orbit.","score":0.8},
			{"node":{"text":""}},
			{"node":{"text":"Muscle atrophy is observed."},"score":0.7}
		]}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL)).WithLogger(zaptest.NewLogger(t))
	text, err := c.Retrieve(context.Background(), "What is microgravity?", 0)
	require.NoError(t, err)

	assert.Equal(t,
		"Microgravity alters bone density.\n\nPlants grow differently in orbit.\n\nMuscle atrophy is observed.",
		text)
	assert.Equal(t, "space-biology", got.IndexName)
	assert.Equal(t, "Default", got.ProjectName)
	assert.Equal(t, "What is microgravity?", got.Query)
	assert.Equal(t, 5, got.SimilarityTopK)
}

func TestRetrieve_OptionalFields(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"retrieval_nodes":[]}`))
	}))
	defer server.Close()

	// Absent when unset.
	_, err := New(testConfig(server.URL)).Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.NotContains(t, raw, "project_id")
	assert.NotContains(t, raw, "organization_id")
	assert.EqualValues(t, 3, raw["similarity_top_k"])

	cfg := testConfig(server.URL)
	cfg.ProjectID = "proj-1"
	cfg.OrganizationID = "org-1"
	_, err = New(cfg).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", raw["project_id"])
	assert.Equal(t, "org-1", raw["organization_id"])
}

func TestRetrieve_NoNodesIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	text, err := New(testConfig(server.URL)).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestRetrieve_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"detail":"index unavailable"}`))
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
				assert.Equal(t, "index unavailable", apiErr.Message)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>not json</html>`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			text, err := New(testConfig(server.URL)).Retrieve(context.Background(), "q", 0)
			require.Error(t, err)
			assert.Empty(t, text)
			tt.check(t, err)
		})
	}
}

func TestRetrieve_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	text, err := New(testConfig(url)).Retrieve(context.Background(), "q", 0)
	require.Error(t, err)
	assert.Empty(t, text)
}

func TestRetrieve_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	text, err := New(testConfig(server.URL)).Retrieve(ctx, "q", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, text)
}

func TestRetrieve_NotConfigured(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.IndexName = ""
	c := New(cfg)

	require.ErrorIs(t, c.Configured(), ErrNotConfigured)
	text, err := c.Retrieve(context.Background(), "q", 0)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "LLAMA_INDEX_NAME")
	assert.Empty(t, text)
	assert.False(t, called, "no request may be sent without credentials")
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	_, err := New(testConfig("http://127.0.0.1:1")).Retrieve(context.Background(), "   ", 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestKeyFingerprint_HidesKey(t *testing.T) {
	c := New(testConfig("http://example.invalid"))
	assert.NotContains(t, c.KeyFingerprint(), "llx-test")
}
