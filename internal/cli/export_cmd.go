// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OscarGarciaF/AetherFlow/internal/export"
	"github.com/OscarGarciaF/AetherFlow/internal/util"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format     string
		output     string
		theme      string
		noMetadata bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save the conversation as Markdown, JSON or HTML",
		Long: `Save the conversation history fetched from the server.

With no --output the file is named after the title and the current time
and written to the working directory. Use --output - to print to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.DefaultOptions()
			opts.IncludeMetadata = !noMetadata
			opts.Theme = theme
			if output != "" && output != "-" && !cmd.Flags().Changed("format") {
				if ext := filepath.Ext(output); ext != "" {
					format = ext
				}
			}
			exp, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}

			msgs, err := a.apiClient().List(cmd.Context())
			if err != nil {
				return err
			}
			data, err := exp.Export(export.Transcript{Title: "Space Biology AI", Messages: msgs, ExportedAt: now()})
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "" {
				output = export.Filename("Space Biology AI", now(), exp.FileExtension())
			}
			if err := util.AtomicWriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Exported"), len(msgs), "messages to", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	cmd.Flags().StringVar(&theme, "theme", "dark", "HTML theme: dark or light")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "omit the front matter and header")
	return cmd
}
