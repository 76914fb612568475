// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/OscarGarciaF/AetherFlow/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete AetherFlow configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" json:"server"`
	Storage    StorageConfig    `toml:"storage" json:"storage"`
	Retrieval  RetrievalConfig  `toml:"retrieval" json:"retrieval"`
	Completion CompletionConfig `toml:"completion" json:"completion"`
	Prompt     PromptConfig     `toml:"prompt" json:"prompt"`
	History    HistoryConfig    `toml:"history" json:"history"`
	Client     ClientConfig     `toml:"client" json:"client"`
	Log        LogConfig        `toml:"log" json:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// StreamTimeoutSecs bounds one whole exchange, provider stream included.
	StreamTimeoutSecs int `toml:"stream_timeout_secs" json:"stream_timeout_secs"`

	ReadHeaderTimeoutSecs int `toml:"read_header_timeout_secs" json:"read_header_timeout_secs"`
	ShutdownTimeoutSecs   int `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`

	// AllowedOrigins enables CORS for browser front-ends. Empty disables CORS.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
}

// StorageConfig selects the message store backend.
type StorageConfig struct {
	// Backend is memory, file or sqlite.
	Backend string `toml:"backend" json:"backend"`
	// Path is the snapshot file or database. Empty uses ~/.aetherflow.
	Path string `toml:"path" json:"path"`
}

// RetrievalConfig configures the LlamaCloud pipeline search client.
type RetrievalConfig struct {
	BaseURL        string `toml:"base_url" json:"base_url"`
	APIKey         string `toml:"api_key" json:"api_key"`
	IndexName      string `toml:"index_name" json:"index_name"`
	ProjectName    string `toml:"project_name" json:"project_name"`
	ProjectID      string `toml:"project_id" json:"project_id"`
	OrganizationID string `toml:"organization_id" json:"organization_id"`
	SimilarityTopK int    `toml:"similarity_top_k" json:"similarity_top_k"`
	TimeoutSecs    int    `toml:"timeout_secs" json:"timeout_secs"`
}

// Configured reports whether every required retrieval credential is set.
func (r RetrievalConfig) Configured() bool {
	return r.APIKey != "" && r.IndexName != "" && r.ProjectName != ""
}

// CompletionConfig configures the Azure OpenAI deployment.
type CompletionConfig struct {
	Endpoint    string  `toml:"endpoint" json:"endpoint"`
	APIKey      string  `toml:"api_key" json:"api_key"`
	Deployment  string  `toml:"deployment" json:"deployment"`
	APIVersion  string  `toml:"api_version" json:"api_version"`
	Temperature float32 `toml:"temperature" json:"temperature"`
}

// Configured reports whether every required completion credential is set.
func (c CompletionConfig) Configured() bool {
	return c.Endpoint != "" && c.APIKey != "" && c.Deployment != ""
}

// Missing lists the unset completion settings by env name.
func (c CompletionConfig) Missing() []string {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "AZURE_OPENAI_API_KEY")
	}
	if c.Endpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	if c.Deployment == "" {
		missing = append(missing, "AZURE_OPENAI_DEPLOYMENT_NAME")
	}
	return missing
}

// PromptConfig holds the system instructions.
type PromptConfig struct {
	// ContextPreamble precedes the retrieved context.
	ContextPreamble string `toml:"context_preamble" json:"context_preamble"`
	// NoContext is used when retrieval produced nothing.
	NoContext string `toml:"no_context" json:"no_context"`
}

// HistoryConfig bounds how much of the conversation is sent upstream.
type HistoryConfig struct {
	// MaxMessages forwards only the most recent N messages. 0 = unbounded.
	MaxMessages int `toml:"max_messages" json:"max_messages"`
}

// ClientConfig configures the terminal clients.
type ClientConfig struct {
	ServerURL string `toml:"server_url" json:"server_url"`
	// ClearOnStart clears server history when a chat session starts.
	ClearOnStart bool `toml:"clear_on_start" json:"clear_on_start"`
	// MaxFPS caps redraws while tokens stream in.
	MaxFPS int `toml:"max_fps" json:"max_fps"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// Path writes logs to a file instead of stderr.
	Path string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default system instructions.
const (
	DefaultContextPreamble = "You are a helpful assistant. Use the following context to answer the user's questions:\n\n"
	DefaultNoContext       = "You are a helpful assistant."
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                  "127.0.0.1:3000",
			StreamTimeoutSecs:     60,
			ReadHeaderTimeoutSecs: 10,
			ShutdownTimeoutSecs:   10,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Retrieval: RetrievalConfig{
			BaseURL:        "https://api.cloud.llamaindex.ai",
			SimilarityTopK: 5,
			TimeoutSecs:    15,
		},
		Completion: CompletionConfig{
			APIVersion:  "2024-10-21",
			Temperature: 1,
		},
		Prompt: PromptConfig{
			ContextPreamble: DefaultContextPreamble,
			NoContext:       DefaultNoContext,
		},
		Client: ClientConfig{
			ServerURL:    "http://127.0.0.1:3000",
			ClearOnStart: true,
			MaxFPS:       30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// StreamTimeout returns the per-exchange deadline.
func (s ServerConfig) StreamTimeout() time.Duration {
	return time.Duration(s.StreamTimeoutSecs) * time.Second
}

// ReadHeaderTimeout returns the http.Server read header timeout.
func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutSecs) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSecs) * time.Second
}

// Timeout returns the retrieval request timeout.
func (r RetrievalConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns ~/.aetherflow.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".aetherflow"), nil
}

// ConfigPathTOML returns the default TOML config path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the default JSON config path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions tightens config files that hold API keys to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// ErrConfigNotFound is returned by LoadFromPath when an explicit file is missing.
var ErrConfigNotFound = errors.New("config file not found")

// Load resolves the configuration from the default locations. TOML wins
// over JSON; with neither present the defaults are used. Environment
// overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads the file at path on top of the defaults. The format is
// picked by extension; anything but .json is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

// Resolve loads path when given, otherwise the default locations.
func Resolve(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	return LoadFromPath(path)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg. Undecoded keys are reported.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero setting.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.StreamTimeoutSecs == 0 {
		c.Server.StreamTimeoutSecs = d.Server.StreamTimeoutSecs
	}
	if c.Server.ReadHeaderTimeoutSecs == 0 {
		c.Server.ReadHeaderTimeoutSecs = d.Server.ReadHeaderTimeoutSecs
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Retrieval.BaseURL == "" {
		c.Retrieval.BaseURL = d.Retrieval.BaseURL
	}
	if c.Retrieval.SimilarityTopK == 0 {
		c.Retrieval.SimilarityTopK = d.Retrieval.SimilarityTopK
	}
	if c.Retrieval.TimeoutSecs == 0 {
		c.Retrieval.TimeoutSecs = d.Retrieval.TimeoutSecs
	}
	if c.Completion.APIVersion == "" {
		c.Completion.APIVersion = d.Completion.APIVersion
	}
	if c.Prompt.ContextPreamble == "" {
		c.Prompt.ContextPreamble = d.Prompt.ContextPreamble
	}
	if c.Prompt.NoContext == "" {
		c.Prompt.NoContext = d.Prompt.NoContext
	}
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = d.Client.ServerURL
	}
	if c.Client.MaxFPS == 0 {
		c.Client.MaxFPS = d.Client.MaxFPS
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# AetherFlow configuration\n")
	b.WriteString("# Credentials may instead come from the environment (see `aetherflow config show`).\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid setting.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks ranges and formats. Missing credentials are not a
// validation error; they are reported per request.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.StreamTimeoutSecs < 1 || c.Server.StreamTimeoutSecs > 3600 {
		add("server.stream_timeout_secs", "must be between 1 and 3600, got %d", c.Server.StreamTimeoutSecs)
	}
	if c.Server.ShutdownTimeoutSecs < 0 {
		add("server.shutdown_timeout_secs", "must not be negative")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory", "file", "sqlite":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: memory, file, sqlite", c.Storage.Backend)
	}

	if err := validateURL(c.Retrieval.BaseURL); err != nil {
		add("retrieval.base_url", "%v", err)
	}
	if c.Retrieval.SimilarityTopK < 1 || c.Retrieval.SimilarityTopK > 100 {
		add("retrieval.similarity_top_k", "must be between 1 and 100, got %d", c.Retrieval.SimilarityTopK)
	}
	if c.Retrieval.TimeoutSecs < 1 {
		add("retrieval.timeout_secs", "must be positive")
	}

	if c.Completion.Endpoint != "" {
		if err := validateURL(c.Completion.Endpoint); err != nil {
			add("completion.endpoint", "%v", err)
		}
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		add("completion.temperature", "must be between 0 and 2, got %g", c.Completion.Temperature)
	}

	if c.History.MaxMessages < 0 {
		add("history.max_messages", "must not be negative (0 = unbounded)")
	}

	if err := validateURL(c.Client.ServerURL); err != nil {
		add("client.server_url", "%v", err)
	}
	if c.Client.MaxFPS < 1 || c.Client.MaxFPS > 240 {
		add("client.max_fps", "must be between 1 and 240, got %d", c.Client.MaxFPS)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		add("log.format", "invalid format '%s', must be json or console", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL '%s': %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL '%s' must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL '%s' has no host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variables on top of the file.
//
// Credentials:
//   - LLAMA_CLOUD_API_KEY, LLAMA_INDEX_NAME, LLAMA_PROJECT_NAME
//   - LLAMA_PROJECT_ID, LLAMA_ORGANIZATION_ID, LLAMA_SIMILARITY_TOP_K
//   - LLAMA_CLOUD_BASE_URL
//   - AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT_NAME
//   - AZURE_OPENAI_API_VERSION
//
// Server and client:
//   - AETHERFLOW_ADDR, AETHERFLOW_STREAM_TIMEOUT_SECS
//   - AETHERFLOW_STORAGE, AETHERFLOW_STORAGE_PATH
//   - AETHERFLOW_HISTORY_MAX_MESSAGES
//   - AETHERFLOW_SERVER_URL
//   - AETHERFLOW_LOG_LEVEL, AETHERFLOW_LOG_FORMAT
func (c *Config) ApplyEnvOverrides() {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	setString("LLAMA_CLOUD_API_KEY", &c.Retrieval.APIKey)
	setString("LLAMA_INDEX_NAME", &c.Retrieval.IndexName)
	setString("LLAMA_PROJECT_NAME", &c.Retrieval.ProjectName)
	setString("LLAMA_PROJECT_ID", &c.Retrieval.ProjectID)
	setString("LLAMA_ORGANIZATION_ID", &c.Retrieval.OrganizationID)
	setString("LLAMA_CLOUD_BASE_URL", &c.Retrieval.BaseURL)
	setInt("LLAMA_SIMILARITY_TOP_K", &c.Retrieval.SimilarityTopK)

	setString("AZURE_OPENAI_API_KEY", &c.Completion.APIKey)
	setString("AZURE_OPENAI_ENDPOINT", &c.Completion.Endpoint)
	setString("AZURE_OPENAI_DEPLOYMENT_NAME", &c.Completion.Deployment)
	setString("AZURE_OPENAI_API_VERSION", &c.Completion.APIVersion)

	setString("AETHERFLOW_ADDR", &c.Server.Addr)
	setInt("AETHERFLOW_STREAM_TIMEOUT_SECS", &c.Server.StreamTimeoutSecs)
	setString("AETHERFLOW_STORAGE", &c.Storage.Backend)
	setString("AETHERFLOW_STORAGE_PATH", &c.Storage.Path)
	setInt("AETHERFLOW_HISTORY_MAX_MESSAGES", &c.History.MaxMessages)
	setString("AETHERFLOW_SERVER_URL", &c.Client.ServerURL)
	setString("AETHERFLOW_LOG_LEVEL", &c.Log.Level)
	setString("AETHERFLOW_LOG_FORMAT", &c.Log.Format)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String renders the config as JSON with secrets replaced by fingerprints.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Retrieval.APIKey != "" {
		safe.Retrieval.APIKey = "[REDACTED " + util.Fingerprint(safe.Retrieval.APIKey) + "]"
	}
	if safe.Completion.APIKey != "" {
		safe.Completion.APIKey = "[REDACTED " + util.Fingerprint(safe.Completion.APIKey) + "]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// HOLDER (THREAD-SAFE)
// =============================================================================

// Holder publishes the active configuration to concurrent readers. Readers
// get an immutable snapshot; Store swaps in a new one atomically.
type Holder struct {
	v atomic.Pointer[Config]
}

// NewHolder returns a Holder seeded with cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.Store(cfg)
	return h
}

// Load returns the current snapshot. Callers must not mutate it.
func (h *Holder) Load() *Config {
	return h.v.Load()
}

// Store publishes a private copy of cfg.
func (h *Holder) Store(cfg *Config) {
	h.v.Store(cfg.Clone())
}
