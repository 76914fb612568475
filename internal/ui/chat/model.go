// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/OscarGarciaF/AetherFlow/internal/session"
	"github.com/OscarGarciaF/AetherFlow/internal/ui/styles"
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the session surface the view drives. *session.Controller
// implements it.
type Controller interface {
	Load(ctx context.Context) error
	Send(ctx context.Context, content string) error
	Clear(ctx context.Context) error
	Snapshot() session.Snapshot
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures the chat view.
type Options struct {
	// ServerURL is shown in the header.
	ServerURL string
	// MaxFPS caps streaming redraws.
	MaxFPS int
	// Markdown renders assistant answers with glamour.
	Markdown bool
	// Now is the clock for relative timestamps.
	Now func() time.Time
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	ctx  context.Context
	ctrl Controller
	opts Options

	theme *styles.Theme
	keys  KeyMap

	// Dimensions
	width  int
	height int
	ready  bool

	// Components
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	help     help.Model

	// Conversation state as last reported by the controller.
	snap    session.Snapshot
	loading bool
	err     error
	notice  string

	stream   *StreamingBuffer
	renderer *glamour.TermRenderer
	// rendered caches markdown output per message ID for the current width.
	rendered map[string]string
}

// New creates the chat model. ctx bounds every request the view makes.
func New(ctx context.Context, ctrl Controller, opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ta := textarea.New()
	ta.Placeholder = "Ask about space biology research..."
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		opts:     opts,
		theme:    styles.NewTheme(),
		keys:     DefaultKeyMap(),
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  sp,
		help:     help.New(),
		loading:  true,
		stream:   NewStreamingBuffer(opts.MaxFPS),
		rendered: make(map[string]string),
	}
	m.setRenderer(80)
	return m
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init loads the history and starts the clocks.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.loadCmd(),
		clockTickCmd(),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		return m.applySnapshot(session.Snapshot(msg)), nil

	case LoadedMsg:
		m.loading = false
		m.err = msg.Err
		return m.applySnapshot(m.ctrl.Snapshot()), nil

	case SentMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.notice = ""
		}
		m.stream.Reset()
		return m.applySnapshot(m.ctrl.Snapshot()), nil

	case ClearedMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.notice = "History cleared"
		}
		return m.applySnapshot(m.ctrl.Snapshot()), nil

	case StreamTickMsg:
		return m.handleStreamTick()

	case clockTickMsg:
		m.updateViewport(false)
		return m, clockTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snap.Busy && m.stream.Shown() == "" {
			m.updateViewport(true)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the model.
func (m Model) View() string {
	return m.renderChat()
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	// Header (2) + input box (3 lines + border 2) + error line (1) + help (1).
	const reserved = 2 + 5 + 1 + 1
	vpHeight := m.height - reserved
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vpHeight

	inputWidth := m.width - 4
	if inputWidth < 10 {
		inputWidth = 10
	}
	m.input.SetWidth(inputWidth)
	m.help.Width = m.width

	m.setRenderer(m.theme.ContentWidth())
	m.ready = true
	m.updateViewport(true)
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		if m.snap.Busy || m.loading {
			return m, nil
		}
		return m, m.clearCmd()

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Up) && m.input.Value() == "":
		m.viewport.LineUp(1)
		return m, nil

	case key.Matches(msg, m.keys.Down) && m.input.Value() == "":
		m.viewport.LineDown(1)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input unless a response is still streaming.
func (m Model) submit() (tea.Model, tea.Cmd) {
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return m, nil
	}
	if m.loading {
		m.notice = "Still loading history..."
		return m, nil
	}
	if m.snap.Busy {
		m.notice = "Wait for the current answer to finish"
		return m, nil
	}

	m.input.Reset()
	m.err = nil
	m.notice = ""
	m.stream.Reset()
	m.snap.Busy = true
	m.snap.Pending = content
	m.updateViewport(true)

	return m, tea.Batch(
		m.sendCmd(content),
		streamTickCmd(m.stream.FrameInterval()),
		m.spinner.Tick,
	)
}

// applySnapshot takes in controller state. Streaming text only reaches the
// screen through the frame-capped buffer.
func (m Model) applySnapshot(s session.Snapshot) Model {
	structural := s.Busy != m.snap.Busy ||
		len(s.Messages) != len(m.snap.Messages) ||
		s.Pending != m.snap.Pending
	m.snap = s
	m.stream.Set(s.Streaming)
	if !s.Busy {
		m.stream.Reset()
	}
	if structural {
		m.updateViewport(true)
	}
	return m
}

func (m Model) handleStreamTick() (tea.Model, tea.Cmd) {
	if !m.snap.Busy {
		return m, nil
	}
	if _, ok := m.stream.Flush(); ok {
		m.updateViewport(true)
	}
	return m, streamTickCmd(m.stream.FrameInterval())
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) loadCmd() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return LoadedMsg{Err: ctrl.Load(ctx)}
	}
}

func (m Model) sendCmd(content string) tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return SentMsg{Err: ctrl.Send(ctx, content)}
	}
}

func (m Model) clearCmd() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return ClearedMsg{Err: ctrl.Clear(ctx)}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// setRenderer rebuilds the markdown renderer for width.
func (m *Model) setRenderer(width int) {
	m.rendered = make(map[string]string)
	if !m.opts.Markdown {
		m.renderer = nil
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.renderer = nil
		return
	}
	m.renderer = r
}

// errorText is the message shown for err.
func errorText(err error) string {
	var se *session.StreamError
	switch {
	case errors.As(err, &se):
		return "Error: " + se.Message
	case errors.Is(err, context.Canceled):
		return ""
	default:
		return "Error: " + err.Error()
	}
}

// Snapshot returns the state the view last rendered.
func (m Model) Snapshot() session.Snapshot {
	return m.snap
}

// Err returns the error currently displayed.
func (m Model) Err() error {
	return m.err
}
