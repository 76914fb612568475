// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styled components for the chat view.
type Theme struct {
	IsDark bool

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header         lipgloss.Style
	HeaderTitle    lipgloss.Style
	HeaderSubtitle lipgloss.Style

	// ==========================================================================
	// MESSAGE STYLES
	// ==========================================================================

	UserLabel       lipgloss.Style
	AssistantLabel  lipgloss.Style
	Timestamp       lipgloss.Style
	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	Provisional     lipgloss.Style
	Typing          lipgloss.Style

	// ==========================================================================
	// EMPTY STATE
	// ==========================================================================

	EmptyTitle lipgloss.Style
	EmptyHint  lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS
	// ==========================================================================

	InputContainer lipgloss.Style
	StatusBar      lipgloss.Style
	StatusBusy     lipgloss.Style
	StatusReady    lipgloss.Style
	Error          lipgloss.Style
}

// NewTheme builds the default theme.
func NewTheme() *Theme {
	t := &Theme{
		IsDark: lipgloss.HasDarkBackground(),
		Width:  80,
		Height: 24,
	}

	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(Overlay)
	t.HeaderTitle = lipgloss.NewStyle().Foreground(Teal).Bold(true)
	t.HeaderSubtitle = lipgloss.NewStyle().Foreground(TextMuted)

	t.UserLabel = lipgloss.NewStyle().Foreground(Sky).Bold(true)
	t.AssistantLabel = lipgloss.NewStyle().Foreground(Indigo).Bold(true)
	t.Timestamp = lipgloss.NewStyle().Foreground(TextMuted)
	t.UserBubble = lipgloss.NewStyle().
		Foreground(TextPrimary).
		BorderStyle(lipgloss.ThickBorder()).
		BorderLeft(true).
		BorderForeground(Sky).
		PaddingLeft(1)
	t.AssistantBubble = lipgloss.NewStyle().
		Foreground(TextPrimary).
		BorderStyle(lipgloss.ThickBorder()).
		BorderLeft(true).
		BorderForeground(Indigo).
		PaddingLeft(1)
	t.Provisional = t.AssistantBubble.
		BorderForeground(Overlay)
	t.Typing = lipgloss.NewStyle().Foreground(TextSecondary).Italic(true)

	t.EmptyTitle = lipgloss.NewStyle().Foreground(Teal).Bold(true)
	t.EmptyHint = lipgloss.NewStyle().Foreground(TextMuted)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.StatusBar = lipgloss.NewStyle().Foreground(TextMuted).Padding(0, 1)
	t.StatusBusy = lipgloss.NewStyle().Foreground(Amber)
	t.StatusReady = lipgloss.NewStyle().Foreground(Teal)
	t.Error = lipgloss.NewStyle().Foreground(Rose).Padding(0, 1)

	return t
}

// SetSize records the terminal dimensions.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// ContentWidth is the usable width for message text.
func (t *Theme) ContentWidth() int {
	w := t.Width - 4
	if w < 20 {
		w = 20
	}
	return w
}
