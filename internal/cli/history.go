// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OscarGarciaF/AetherFlow/internal/client"
	"github.com/OscarGarciaF/AetherFlow/internal/session"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
	"github.com/OscarGarciaF/AetherFlow/internal/util"
)

// now is the clock for relative timestamps.
var now = time.Now

func (a *app) apiClient() *client.Client {
	return client.New(a.cfg.Client.ServerURL)
}

// =============================================================================
// HISTORY
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show the conversation history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.apiClient()
			var msgs []storage.Message
			if len(args) == 1 {
				msg, err := c.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				msgs = []storage.Message{msg}
				full = true
			} else {
				list, err := c.List(cmd.Context())
				if err != nil {
					return err
				}
				msgs = list
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(msgs)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, DimStyle.Render("No messages yet."))
				return nil
			}
			printMessages(out, msgs, full)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the messages as JSON")
	cmd.Flags().BoolVar(&full, "full", false, "do not truncate long messages")
	return cmd
}

// printMessages writes one block per message. Unless full is set each
// message is cut to a single terminal line.
func printMessages(out io.Writer, msgs []storage.Message, full bool) {
	width := GetTerminalWidth()
	if !isTerminalWriter(out) {
		width = DefaultTerminalWidth
	}
	t := now()
	for _, m := range msgs {
		label := UserStyle.Render("you")
		if m.Role == storage.RoleAssistant {
			label = AssistantStyle.Render("assistant")
		}
		fmt.Fprintf(out, "%s %s %s\n", label,
			DimStyle.Render(session.RelativeTime(m.Timestamp, t)),
			DimStyle.Render(m.ID))

		content := m.Content
		if !full {
			content = strings.Join(strings.Fields(content), " ")
			content = util.TruncateWidth(content, width-2)
		}
		fmt.Fprintf(out, "  %s\n", content)
	}
}

// =============================================================================
// CLEAR
// =============================================================================

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.apiClient().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("History cleared"))
			return nil
		},
	}
}

// =============================================================================
// STATUS
// =============================================================================

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the server's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.apiClient().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("could not reach %s: %w", a.cfg.Client.ServerURL, err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(h)
			}
			fmt.Fprintln(out, TitleStyle.Render("AetherFlow server"))
			fmt.Fprintln(out, RenderLabel("URL")+a.cfg.Client.ServerURL)
			fmt.Fprintln(out, RenderLabel("Version")+h.Version)
			fmt.Fprintln(out, RenderLabel("Status")+RenderStatus(h.Status))
			fmt.Fprintln(out, RenderLabel("Store")+RenderStatus(h.Store))
			fmt.Fprintln(out, RenderLabel("Retrieval")+RenderStatus(h.Retrieval))
			fmt.Fprintln(out, RenderLabel("Completion")+RenderStatus(h.Completion))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the health report as JSON")
	return cmd
}
