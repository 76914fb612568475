// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the terminal chat view for AetherFlow.

The view is a Bubble Tea model over a session controller. It never holds
conversation state of its own: the persisted history, the in-flight user
message and the provisional answer all come from controller snapshots.

# Key Components

## Model (model.go)

  - Input box (bubbles/textarea), Enter sends, Alt+Enter inserts a newline
  - Scrollback (bubbles/viewport)
  - Typing indicator (bubbles/spinner) while waiting for the first token
  - Sends are refused while an answer is streaming

## Streaming (streaming.go)

StreamingBuffer caps redraws of the provisional answer at MaxFPS using a
token-bucket limiter. Snapshots can arrive once per delta; only the latest
text is drawn.

## View (view.go)

  - Header with the app title and connection state
  - Empty state before the first message
  - Message bubbles with relative timestamps; answers rendered as markdown
  - Error line for failed sends

# Usage

	ctrl := session.NewController(client.New(url))
	m := chat.New(ctx, ctrl, chat.Options{Markdown: true})
	p := tea.NewProgram(m, tea.WithAltScreen())
	ctrl.OnChange(func(s session.Snapshot) { p.Send(chat.SnapshotMsg(s)) })
	_, err := p.Run()
*/
package chat
