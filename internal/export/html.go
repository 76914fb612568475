// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a standalone HTML page. Message text
// is escaped and shown as written, except fenced code blocks, which are
// syntax highlighted.
type HTMLExporter struct {
	options Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts Options) *HTMLExporter {
	return &HTMLExporter{options: opts}
}

// Export converts a transcript to HTML.
func (e *HTMLExporter) Export(t Transcript) ([]byte, error) {
	if len(t.Messages) == 0 {
		return nil, ErrEmptyTranscript
	}

	theme := "dark"
	if e.options.Theme == "light" {
		theme = "light"
	}
	title := html.EscapeString(t.title())

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("  <meta charset=\"UTF-8\">\n")
	sb.WriteString("  <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "  <title>%s</title>\n", title)
	sb.WriteString("  <meta name=\"generator\" content=\"aetherflow\">\n")
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n<div class=\"container\">\n", theme)

	if e.options.IncludeMetadata {
		sb.WriteString("  <header class=\"header\">\n")
		fmt.Fprintf(&sb, "    <h1>%s</h1>\n", title)
		fmt.Fprintf(&sb, "    <p class=\"meta\">%d messages &middot; exported %s</p>\n",
			len(t.Messages), html.EscapeString(t.exportedAt().Format(time.RFC3339)))
		sb.WriteString("  </header>\n")
	}

	sb.WriteString("  <main class=\"conversation\">\n")
	for _, msg := range t.Messages {
		e.renderMessage(&sb, msg)
	}
	sb.WriteString("  </main>\n</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

func (e *HTMLExporter) renderMessage(sb *strings.Builder, msg storage.Message) {
	role := html.EscapeString(string(msg.Role))
	fmt.Fprintf(sb, "    <article class=\"message %s\" id=\"msg-%s\">\n", role, html.EscapeString(msg.ID))
	fmt.Fprintf(sb, "      <div class=\"role\">%s", roleTitle(msg.Role))
	if e.options.IncludeTimestamps {
		fmt.Fprintf(sb, " <time datetime=\"%s\">%s</time>",
			msg.Timestamp.Format(time.RFC3339), formatTimestamp(msg.Timestamp))
	}
	sb.WriteString("</div>\n")
	sb.WriteString("      <div class=\"content\">")
	e.renderContent(sb, msg.Content)
	sb.WriteString("</div>\n")
	sb.WriteString("    </article>\n")
}

// renderContent escapes prose and highlights ``` fenced blocks. An
// unterminated fence runs to the end of the message.
func (e *HTMLExporter) renderContent(sb *strings.Builder, content string) {
	rest := content
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			sb.WriteString(html.EscapeString(rest))
			return
		}
		sb.WriteString(html.EscapeString(rest[:start]))
		rest = rest[start+3:]

		lang, body, _ := strings.Cut(rest, "\n")
		code := body
		if end := strings.Index(body, "```"); end >= 0 {
			code = body[:end]
			rest = body[end+3:]
		} else {
			rest = ""
		}
		e.renderCode(sb, strings.TrimSpace(lang), code)
	}
}

func (e *HTMLExporter) renderCode(sb *strings.Builder, lang, code string) {
	if lang != "" {
		fmt.Fprintf(sb, "<div class=\"lang\">%s</div>", html.EscapeString(lang))
	}

	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	styleName := "monokai"
	if e.options.Theme == "light" {
		styleName = "github"
	}
	formatter := chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4))

	it, err := lexer.Tokenise(nil, code)
	if err == nil {
		var out strings.Builder
		if err = formatter.Format(&out, styles.Get(styleName), it); err == nil {
			sb.WriteString(out.String())
			return
		}
	}
	fmt.Fprintf(sb, "<pre><code>%s</code></pre>", html.EscapeString(code))
}

func (e *HTMLExporter) FileExtension() string { return ".html" }

func (e *HTMLExporter) MimeType() string { return "text/html" }

const css = `  <style>
    body { margin: 0; font-family: -apple-system, "Segoe UI", Roboto, sans-serif; line-height: 1.5; }
    .dark-theme { background: #0f172a; color: #e2e8f0; }
    .light-theme { background: #f8fafc; color: #0f172a; }
    .container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
    .header h1 { margin: 0; color: #14b8a6; }
    .meta { opacity: 0.7; font-size: 0.9rem; }
    .message { border-radius: 10px; padding: 0.75rem 1rem; margin: 1rem 0; }
    .dark-theme .user { background: #1e293b; }
    .dark-theme .assistant { background: #312e81; }
    .light-theme .user { background: #e2e8f0; }
    .light-theme .assistant { background: #e0e7ff; }
    .role { font-weight: 600; margin-bottom: 0.25rem; }
    .role time { font-weight: 400; opacity: 0.6; font-size: 0.85rem; margin-left: 0.5rem; }
    .content { white-space: pre-wrap; word-wrap: break-word; }
    .content pre { white-space: pre; overflow-x: auto; padding: 0.75rem; border-radius: 6px; }
    .lang { font-size: 0.75rem; opacity: 0.6; margin-top: 0.5rem; }
  </style>
`
