// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OscarGarciaF/AetherFlow/internal/config"
	"github.com/OscarGarciaF/AetherFlow/internal/logging"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	verbose    bool
	serverURL  string
}

// app is built once per invocation by the root PersistentPreRunE.
type app struct {
	opts   globalOptions
	cfg    *config.Config
	logger *zap.Logger
}

// quietCommands log nowhere unless log.path is set; their stderr belongs
// to the terminal UI.
var quietCommands = map[string]bool{
	"chat": true,
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the aetherflow command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "aetherflow",
		Short: "Streaming retrieval-augmented chat",
		Long: `AetherFlow answers questions about space biology research.

The server persists the conversation, retrieves context from a LlamaCloud
index, streams the answer from Azure OpenAI and forwards it token by token
as server-sent events. The chat client renders the answer as it arrives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.opts.configPath, "config", "c", "", "config file (default ~/.aetherflow/config.toml)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "log format: json or console")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVarP(&a.opts.serverURL, "server", "s", "", "server URL for client commands")

	rootCmd.AddCommand(
		newServeCmd(a),
		newChatCmd(a),
		newHistoryCmd(a),
		newClearCmd(a),
		newStatusCmd(a),
		newExportCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// init resolves the configuration and the logger for cmd.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Resolve(a.opts.configPath)
	if err != nil {
		return err
	}
	if a.opts.logLevel != "" {
		cfg.Log.Level = a.opts.logLevel
	}
	if a.opts.logFormat != "" {
		cfg.Log.Format = a.opts.logFormat
	}
	if a.opts.serverURL != "" {
		cfg.Client.ServerURL = a.opts.serverURL
	}
	a.cfg = cfg

	if quietCommands[cmd.Name()] && cfg.Log.Path == "" {
		a.logger = zap.NewNop()
		return nil
	}

	opts := logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Debug:  a.opts.verbose,
	}
	if cfg.Log.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.Path), 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		opts.OutputPaths = []string{cfg.Log.Path}
	}
	logger, err := logging.New(opts)
	if err != nil {
		return err
	}
	a.logger = logger.With(zap.String("command", cmd.Name()))
	return nil
}

// configFile returns the file the configuration was read from, or "" when
// only defaults and environment were used.
func (a *app) configFile() string {
	if a.opts.configPath != "" {
		return a.opts.configPath
	}
	for _, pathFn := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// =============================================================================
// ENTRY POINT
// =============================================================================

// Execute runs the command line and returns the process exit code.
// SIGINT and SIGTERM cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}
