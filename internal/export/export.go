// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

// ErrEmptyTranscript is returned by the document formats for a transcript
// with no messages.
var ErrEmptyTranscript = errors.New("transcript has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Transcript is the conversation being exported.
type Transcript struct {
	Title    string
	Messages []storage.Message
	// ExportedAt defaults to now.
	ExportedAt time.Time
}

// Exporter converts a transcript to one format.
type Exporter interface {
	Export(t Transcript) ([]byte, error)

	// FileExtension returns the extension including the dot.
	FileExtension() string

	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds a front matter or header block.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

// Formats lists the names ForFormat accepts.
var Formats = []string{"md", "json", "html"}

// ForFormat returns the exporter for name.
func ForFormat(name string, opts Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "md", "markdown":
		return &MarkdownExporter{options: opts}, nil
	case "json":
		return &JSONExporter{}, nil
	case "html", "htm":
		return &HTMLExporter{options: opts}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want one of %s)", name, strings.Join(Formats, ", "))
	}
}

// Filename builds "<title>_<timestamp><ext>" with unsafe characters replaced.
func Filename(title string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s%s", sanitizeFilename(title), at.Format("20060102_150405"), ext)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (t Transcript) exportedAt() time.Time {
	if t.ExportedAt.IsZero() {
		return time.Now()
	}
	return t.ExportedAt
}

func (t Transcript) title() string {
	if strings.TrimSpace(t.Title) == "" {
		return "Conversation"
	}
	return t.Title
}

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}

func roleTitle(r storage.Role) string {
	if r == storage.RoleAssistant {
		return "Assistant"
	}
	return "You"
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
