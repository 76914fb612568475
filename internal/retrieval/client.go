// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrieval queries the LlamaCloud pipeline search API for passages
// that ground the model's answer.
//
// Retrieval is best effort: every failure mode returns an empty context
// together with a typed error, and callers are expected to carry on without
// context.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/OscarGarciaF/AetherFlow/internal/config"
	"github.com/OscarGarciaF/AetherFlow/internal/logging"
	"github.com/OscarGarciaF/AetherFlow/internal/util"
)

const (
	// DefaultBaseURL is the hosted LlamaCloud API.
	DefaultBaseURL = "https://api.cloud.llamaindex.ai"

	// SearchPath is the pipeline search endpoint.
	SearchPath = "/api/v1/pipelines/search"

	// DefaultTopK is used when neither the caller nor the config sets one.
	DefaultTopK = 5

	// MaxResponseSize bounds the search response body.
	MaxResponseSize = 8 * 1024 * 1024

	// PassageSeparator joins passages in service order.
	PassageSeparator = "\n\n"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates a required credential is missing.
	ErrNotConfigured = errors.New("retrieval credentials not configured")

	// ErrEmptyQuery is returned for blank queries; no request is sent.
	ErrEmptyQuery = errors.New("empty retrieval query")

	// ErrMalformedResponse indicates the service answered 2xx with a body
	// that is not a search result.
	ErrMalformedResponse = errors.New("malformed retrieval response")
)

// APIError is a non-2xx answer from the search service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("retrieval service error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("retrieval service error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type searchRequest struct {
	IndexName      string `json:"index_name"`
	ProjectName    string `json:"project_name"`
	ProjectID      string `json:"project_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	Query          string `json:"query"`
	SimilarityTopK int    `json:"similarity_top_k"`
}

type retrievalNode struct {
	Text string `json:"text"`
	Node *struct {
		Text string `json:"text"`
	} `json:"node"`
	Score float64 `json:"score"`
}

// passage prefers the top-level text and falls back to node.text.
func (n retrievalNode) passage() string {
	if n.Text != "" {
		return n.Text
	}
	if n.Node != nil {
		return n.Node.Text
	}
	return ""
}

type searchResponse struct {
	RetrievalNodes []retrievalNode `json:"retrieval_nodes"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the pipeline search API. It is safe for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	indexName      string
	projectName    string
	projectID      string
	organizationID string
	topK           int
	timeout        time.Duration

	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client from the retrieval config section.
func New(cfg config.RetrievalConfig) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		indexName:      cfg.IndexName,
		projectName:    cfg.ProjectName,
		projectID:      cfg.ProjectID,
		organizationID: cfg.OrganizationID,
		topK:           cfg.SimilarityTopK,
		timeout:        cfg.Timeout(),
		httpClient:     http.DefaultClient,
		logger:         zap.NewNop(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.topK <= 0 {
		c.topK = DefaultTopK
	}
	return c
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	c.logger = logging.OrNop(l).Named("retrieval")
	return c
}

// Configured returns ErrNotConfigured naming the first missing credential.
func (c *Client) Configured() error {
	switch {
	case c.apiKey == "":
		return fmt.Errorf("%w: LLAMA_CLOUD_API_KEY", ErrNotConfigured)
	case c.indexName == "":
		return fmt.Errorf("%w: LLAMA_INDEX_NAME", ErrNotConfigured)
	case c.projectName == "":
		return fmt.Errorf("%w: LLAMA_PROJECT_NAME", ErrNotConfigured)
	}
	return nil
}

// KeyFingerprint identifies the API key in logs.
func (c *Client) KeyFingerprint() string {
	return util.Fingerprint(c.apiKey)
}

// Retrieve searches for passages relevant to query and returns them joined
// by a blank line, in the order the service ranked them. topK <= 0 uses the
// configured default. On any failure the context is "" and err says why.
func (c *Client) Retrieve(ctx context.Context, query string, topK int) (string, error) {
	if err := c.Configured(); err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if topK <= 0 {
		topK = c.topK
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(searchRequest{
		IndexName:      c.indexName,
		ProjectName:    c.projectName,
		ProjectID:      c.projectID,
		OrganizationID: c.organizationID,
		Query:          query,
		SimilarityTopK: topK,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SearchPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read search response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return "", fmt.Errorf("%w: response exceeded %d bytes", ErrMalformedResponse, MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	var sr searchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	passages := make([]string, 0, len(sr.RetrievalNodes))
	for _, n := range sr.RetrievalNodes {
		if p := n.passage(); p != "" {
			passages = append(passages, p)
		}
	}

	c.logger.Debug("RETRIEVAL_COMPLETE",
		zap.Int("nodes", len(sr.RetrievalNodes)),
		zap.Int("passages", len(passages)),
		zap.Int("top_k", topK),
		zap.Duration("duration", time.Since(start)),
		zap.String("key", c.KeyFingerprint()),
	)
	return strings.Join(passages, PassageSeparator), nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		case parsed.Detail != nil:
			if s, ok := parsed.Detail.(string); ok {
				return s
			}
			if b, err := json.Marshal(parsed.Detail); err == nil {
				return string(b)
			}
		}
	}
	return util.TruncateRunes(strings.TrimSpace(string(body)), 200)
}
