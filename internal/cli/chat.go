// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/OscarGarciaF/AetherFlow/internal/client"
	"github.com/OscarGarciaF/AetherFlow/internal/config"
	"github.com/OscarGarciaF/AetherFlow/internal/session"
	"github.com/OscarGarciaF/AetherFlow/internal/ui/chat"
)

const historyFileName = "chat_history"

type chatOptions struct {
	plain      bool
	keep       bool
	noMarkdown bool
}

func newChatCmd(a *app) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the server",
		Long: `Open a chat session against a running server.

On a terminal this is a full-screen view that renders answers as they
stream. With --plain, or when input or output is redirected, a line-based
prompt is used instead; piped input is read one question per line.

The server history is cleared when the session starts unless --keep is
given or client.clear_on_start is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl := a.newController(opts)
			if !opts.plain && Interactive() {
				return runTUI(cmd.Context(), a, ctrl, opts)
			}
			return runPlainChat(cmd.Context(), ctrl, newLineReader(cmd.InOrStdin()), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "use the line-based prompt")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "keep the existing server history")
	cmd.Flags().BoolVar(&opts.noMarkdown, "no-markdown", false, "show answers as plain text")
	return cmd
}

func (a *app) newController(opts chatOptions) *session.Controller {
	api := client.New(a.cfg.Client.ServerURL)
	return session.NewController(api).
		WithLogger(a.logger).
		WithClearOnLoad(a.cfg.Client.ClearOnStart && !opts.keep)
}

// =============================================================================
// FULL-SCREEN CHAT
// =============================================================================

func runTUI(ctx context.Context, a *app, ctrl *session.Controller, opts chatOptions) error {
	m := chat.New(ctx, ctrl, chat.Options{
		ServerURL: a.cfg.Client.ServerURL,
		MaxFPS:    a.cfg.Client.MaxFPS,
		Markdown:  !opts.noMarkdown,
	})
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	ctrl.OnChange(func(s session.Snapshot) {
		p.Send(chat.SnapshotMsg(s))
	})

	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("chat view failed: %w", err)
	}
	if fm, ok := final.(chat.Model); ok && !fm.Snapshot().Loaded && fm.Err() != nil {
		return fmt.Errorf("could not reach %s: %w", a.cfg.Client.ServerURL, fm.Err())
	}
	return nil
}

// =============================================================================
// LINE-BASED CHAT
// =============================================================================

// lineReader yields one question per call. io.EOF and
// liner.ErrPromptAborted end the session.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// newLineReader picks liner for a terminal and a plain scanner otherwise.
func newLineReader(in io.Reader) lineReader {
	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		return newLinerReader()
	}
	return &scanReader{sc: bufio.NewScanner(in)}
}

// linerReader provides line editing and a persisted input history.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{line: line, historyFile: filepath.Join(dir, historyFileName)}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the input history with owner-only permissions.
func (r *linerReader) Close() error {
	defer r.line.Close()
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = r.line.WriteHistory(f)
	return err
}

// scanReader reads redirected input. No prompt is written.
type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }

// streamPrinter writes the unseen tail of the streaming answer on every
// controller snapshot.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
}

func (p *streamPrinter) onChange(s session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(s.Streaming) > p.printed {
		fmt.Fprint(p.out, s.Streaming[p.printed:])
		p.printed = len(s.Streaming)
	}
}

func (p *streamPrinter) reset() {
	p.mu.Lock()
	p.printed = 0
	p.mu.Unlock()
}

// runPlainChat runs the line-based loop until EOF, "exit" or cancellation.
func runPlainChat(ctx context.Context, ctrl *session.Controller, in lineReader, out io.Writer) error {
	defer in.Close()

	if err := ctrl.Load(ctx); err != nil {
		return err
	}

	printer := &streamPrinter{out: out}
	ctrl.OnChange(printer.onChange)

	fmt.Fprintln(out, TitleStyle.Render("Space Biology AI"), DimStyle.Render("type exit to leave, /clear to reset"))
	for {
		input, err := in.Prompt(PromptStyle.Render("you>")+" ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		case "/clear":
			if err := ctrl.Clear(ctx); err != nil {
				fmt.Fprintln(out, ErrorStyle.Render("Error:"), err)
			} else {
				fmt.Fprintln(out, SuccessStyle.Render("History cleared"))
			}
			continue
		case "/history":
			printMessages(out, ctrl.Messages(), false)
			continue
		}

		printer.reset()
		fmt.Fprint(out, AssistantStyle.Render("assistant>")+" ")
		err = ctrl.Send(ctx, input)
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, ErrorStyle.Render("Error:"), sendErrorText(err))
		}
	}
}

// sendErrorText prefers the server's error frame text.
func sendErrorText(err error) string {
	var se *session.StreamError
	if errors.As(err, &se) {
		return se.Message
	}
	var ce *client.StatusError
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return err.Error()
}
