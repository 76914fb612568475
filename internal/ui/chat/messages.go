// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/OscarGarciaF/AetherFlow/internal/session"
)

// SnapshotMsg carries a controller state change into the Bubble Tea loop.
type SnapshotMsg session.Snapshot

// LoadedMsg reports the end of the initial load.
type LoadedMsg struct{ Err error }

// SentMsg reports the end of a send.
type SentMsg struct{ Err error }

// ClearedMsg reports the end of a clear.
type ClearedMsg struct{ Err error }

// clockTickMsg refreshes relative timestamps.
type clockTickMsg time.Time

const clockInterval = 30 * time.Second

func clockTickCmd() tea.Cmd {
	return tea.Tick(clockInterval, func(t time.Time) tea.Msg {
		return clockTickMsg(t)
	})
}
