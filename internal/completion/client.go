// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/OscarGarciaF/AetherFlow/internal/config"
	"github.com/OscarGarciaF/AetherFlow/internal/logging"
	"github.com/OscarGarciaF/AetherFlow/internal/util"
)

// DefaultAPIVersion is the Azure OpenAI API version used for chat.
const DefaultAPIVersion = "2024-10-21"

// Turn roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the Azure credentials are incomplete.
	ErrNotConfigured = errors.New("completion credentials not configured")

	// ErrNoTurns is returned by Open for an empty conversation.
	ErrNoTurns = errors.New("no turns to complete")
)

// ProviderError is a failure reported by the provider or the transport.
type ProviderError struct {
	// Status is the HTTP status, 0 for transport failures.
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("completion provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("completion provider error (HTTP %d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("completion provider error: %s", e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// wrapProviderError converts go-openai errors into ProviderError. Context
// errors pass through so callers can tell cancellation from failure.
func wrapProviderError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &ProviderError{Status: apiErr.HTTPStatusCode, Code: code, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &ProviderError{Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}

// =============================================================================
// TYPES
// =============================================================================

// Turn is one message sent to the model.
type Turn struct {
	Role    string
	Content string
}

// Stream yields text deltas from one completion. It is not safe for
// concurrent use and cannot be restarted.
type Stream interface {
	// Recv blocks for the next non-empty delta. io.EOF marks normal
	// completion; any other error is a failure.
	Recv() (string, error)
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// =============================================================================
// CLIENT
// =============================================================================

// Client opens streaming chat completions against one Azure deployment.
type Client struct {
	endpoint    string
	apiKey      string
	deployment  string
	apiVersion  string
	temperature float32

	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client from the completion config section.
func New(cfg config.CompletionConfig) *Client {
	c := &Client{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:      cfg.APIKey,
		deployment:  cfg.Deployment,
		apiVersion:  cfg.APIVersion,
		temperature: cfg.Temperature,
		logger:      zap.NewNop(),
	}
	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}
	return c
}

// WithHTTPClient replaces the HTTP client. The client must not set a
// Timeout; the request context bounds the stream.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	c.logger = logging.OrNop(l).Named("completion")
	return c
}

// Configured returns ErrNotConfigured listing every missing setting.
func (c *Client) Configured() error {
	var missing []string
	if c.apiKey == "" {
		missing = append(missing, "AZURE_OPENAI_API_KEY")
	}
	if c.endpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	if c.deployment == "" {
		missing = append(missing, "AZURE_OPENAI_DEPLOYMENT_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// Deployment returns the configured deployment name.
func (c *Client) Deployment() string {
	return c.deployment
}

// KeyFingerprint identifies the API key in logs.
func (c *Client) KeyFingerprint() string {
	return util.Fingerprint(c.apiKey)
}

func (c *Client) openaiClient() *openai.Client {
	cfg := openai.DefaultAzureConfig(c.apiKey, c.endpoint)
	cfg.APIVersion = c.apiVersion
	deployment := c.deployment
	cfg.AzureModelMapperFunc = func(string) string { return deployment }
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

// Open starts a streaming completion over turns. An error means nothing
// was streamed; the caller may still report it as a plain failure.
func (c *Client) Open(ctx context.Context, turns []Turn) (Stream, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrNoTurns
	}

	msgs := make([]openai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		msgs[i] = openai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.deployment,
		Messages:    msgs,
		Stream:      true,
		Temperature: c.temperature,
	}

	c.logger.Debug("COMPLETION_OPEN",
		zap.String("deployment", c.deployment),
		zap.Int("turns", len(turns)),
		zap.String("key", c.KeyFingerprint()),
	)

	raw, err := c.openaiClient().CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	return &azureStream{raw: raw}, nil
}

// =============================================================================
// STREAM
// =============================================================================

type azureStream struct {
	raw    *openai.ChatCompletionStream
	closed bool
}

// Recv skips chunks without content (role preambles, content-filter
// annotations, empty choices) so callers only see real text.
func (s *azureStream) Recv() (string, error) {
	for {
		chunk, err := s.raw.Recv()
		if err != nil {
			return "", wrapProviderError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *azureStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.raw.Close()
	return nil
}
