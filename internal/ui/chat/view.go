// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/OscarGarciaF/AetherFlow/internal/session"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
	"github.com/OscarGarciaF/AetherFlow/internal/util"
)

const (
	appTitle    = "Space Biology AI"
	appSubtitle = "Powered by LlamaIndex"
	emptyTitle  = "Explore Space Biology"
	emptyHint   = "Ask questions about biological research in space environments, " +
		"microgravity effects, and the latest discoveries in astrobiology."
)

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) renderChat() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatusLine(),
		m.theme.InputContainer.Width(m.width-2).Render(m.input.View()),
		m.help.View(m.keys),
	)
}

func (m Model) renderHeader() string {
	left := m.theme.HeaderTitle.Render(appTitle) + "  " + m.theme.HeaderSubtitle.Render(appSubtitle)

	var status string
	switch {
	case m.loading:
		status = m.theme.StatusBusy.Render("connecting")
	case m.snap.Busy:
		status = m.theme.StatusBusy.Render("answering")
	default:
		status = m.theme.StatusReady.Render("ready")
	}
	right := status
	if m.opts.ServerURL != "" {
		room := m.width - util.StringWidth(appTitle+"  "+appSubtitle) - 16
		if room > 10 {
			right = m.theme.HeaderSubtitle.Render(util.TruncateWidth(m.opts.ServerURL, room)) + "  " + status
		}
	}

	gap := m.width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderStatusLine() string {
	switch {
	case m.err != nil && errorText(m.err) != "":
		return m.theme.Error.Render(util.TruncateWidth(errorText(m.err), m.width-2))
	case m.notice != "":
		return m.theme.StatusBar.Render(m.notice)
	default:
		return m.theme.StatusBar.Render(fmt.Sprintf("%d messages", len(m.snap.Messages)))
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

// updateViewport re-renders the conversation. bottom scrolls to the end.
func (m *Model) updateViewport(bottom bool) {
	m.viewport.SetContent(m.renderMessages())
	if bottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessages() string {
	if len(m.snap.Messages) == 0 && !m.snap.Busy {
		return m.renderEmptyState()
	}

	now := m.opts.Now()
	var b strings.Builder
	for _, msg := range m.snap.Messages {
		b.WriteString(m.renderMessage(msg, session.RelativeTime(msg.Timestamp, now)))
		b.WriteString("\n\n")
	}

	if m.snap.Busy {
		if m.snap.Pending != "" {
			b.WriteString(m.renderBubble(storage.RoleUser, m.snap.Pending, "sending"))
			b.WriteString("\n\n")
		}
		if text := m.stream.Shown(); text != "" {
			label := m.theme.AssistantLabel.Render("Assistant")
			body := m.theme.Provisional.Width(m.theme.ContentWidth()).Render(text)
			b.WriteString(label + "\n" + body)
		} else {
			b.WriteString(m.renderTyping())
		}
	}
	return b.String()
}

func (m *Model) renderMessage(msg storage.Message, when string) string {
	if msg.Role != storage.RoleAssistant || m.renderer == nil {
		return m.renderBubble(msg.Role, msg.Content, when)
	}

	body, ok := m.rendered[msg.ID]
	if !ok {
		out, err := m.renderer.Render(msg.Content)
		if err != nil {
			return m.renderBubble(msg.Role, msg.Content, when)
		}
		body = strings.TrimRight(out, "\n")
		m.rendered[msg.ID] = body
	}
	label := m.theme.AssistantLabel.Render("Assistant") + " " + m.theme.Timestamp.Render(when)
	return label + "\n" + body
}

func (m *Model) renderBubble(role storage.Role, content, when string) string {
	width := m.theme.ContentWidth()
	var label, body string
	if role == storage.RoleUser {
		label = m.theme.UserLabel.Render("You")
		body = m.theme.UserBubble.Width(width).Render(content)
	} else {
		label = m.theme.AssistantLabel.Render("Assistant")
		body = m.theme.AssistantBubble.Width(width).Render(content)
	}
	if when != "" {
		label += " " + m.theme.Timestamp.Render(when)
	}
	return label + "\n" + body
}

func (m *Model) renderTyping() string {
	return m.theme.AssistantLabel.Render("Assistant") + "\n" +
		m.theme.Typing.Render(m.spinner.View()+" Thinking...")
}

func (m *Model) renderEmptyState() string {
	if m.loading {
		return m.theme.EmptyHint.Render("Loading conversation...")
	}
	width := m.viewport.Width
	if width < 20 {
		width = 20
	}
	hintWidth := width - 8
	if hintWidth > 60 {
		hintWidth = 60
	}
	block := lipgloss.JoinVertical(lipgloss.Center,
		m.theme.EmptyTitle.Render(emptyTitle),
		"",
		m.theme.EmptyHint.Width(hintWidth).Align(lipgloss.Center).Render(emptyHint),
	)
	return lipgloss.Place(width, m.viewport.Height, lipgloss.Center, lipgloss.Center, block)
}
