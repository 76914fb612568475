// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the HTTP client for the AetherFlow message API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OscarGarciaF/AetherFlow/internal/orchestrator"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
	"github.com/OscarGarciaF/AetherFlow/internal/wire"
)

const (
	// DefaultBaseURL is the default server address.
	DefaultBaseURL = "http://127.0.0.1:3000"

	// DefaultTimeout bounds the non-streaming calls.
	DefaultTimeout = 15 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// ErrNotFound is returned by Get for an unknown message ID.
var ErrNotFound = errors.New("message not found")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
}

// Client talks to a running server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a client for baseURL. An empty baseURL uses DefaultBaseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
}

// WithHTTPClient sets a custom HTTP client. Its Timeout must be zero or
// long enough for a full stream.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithTimeout sets the timeout for non-streaming calls.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List returns the persisted history in order.
func (c *Client) List(ctx context.Context) ([]storage.Message, error) {
	var msgs []storage.Message
	if err := c.doJSON(ctx, http.MethodGet, "/messages", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Get returns one message.
func (c *Client) Get(ctx context.Context, id string) (storage.Message, error) {
	var msg storage.Message
	err := c.doJSON(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), &msg)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return storage.Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return msg, err
}

// Clear deletes the history.
func (c *Client) Clear(ctx context.Context) error {
	var body struct {
		Success bool `json:"success"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/messages", &body); err != nil {
		return err
	}
	if !body.Success {
		return errors.New("server did not confirm clear")
	}
	return nil
}

// Health mirrors the GET /health body.
type Health struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Store      string `json:"store"`
	Retrieval  string `json:"retrieval"`
	Completion string `json:"completion"`
}

// Health reports the server's readiness.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Stream posts content as a user message and returns the event stream body.
// The caller must close it. ctx governs the whole stream.
func (c *Client) Stream(ctx context.Context, content string) (io.ReadCloser, error) {
	payload, err := json.Marshal(orchestrator.Request{Role: string(storage.RoleUser), Content: content})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", wire.ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError reads the {"error": ...} body when there is one.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var parsed struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	return &StatusError{Status: resp.StatusCode, Message: msg}
}
