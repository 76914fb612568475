// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OscarGarciaF/AetherFlow/internal/completion"
	"github.com/OscarGarciaF/AetherFlow/internal/config"
	"github.com/OscarGarciaF/AetherFlow/internal/orchestrator"
	"github.com/OscarGarciaF/AetherFlow/internal/retrieval"
	"github.com/OscarGarciaF/AetherFlow/internal/server"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

// serveOptions override config values for one run.
type serveOptions struct {
	addr    string
	backend string
	path    string
	noWatch bool

	// ready is called with the bound address once the listener is open.
	ready func(net.Addr)
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API server",
		Long: `Run the HTTP server exposing the message history and the streaming
exchange endpoint. Routes are served both at the root and under /api.

The config file is watched; prompt, history window, top-K and timeout
changes apply to the next exchange without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default from config, 127.0.0.1:3000)")
	cmd.Flags().StringVar(&opts.backend, "store", "", "message store: memory, file or sqlite")
	cmd.Flags().StringVar(&opts.path, "store-path", "", "file or database path for persistent stores")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

// runServe serves until ctx is cancelled, then shuts down gracefully.
func runServe(ctx context.Context, a *app, opts serveOptions) error {
	cfg := a.cfg
	logger := a.logger
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.backend != "" {
		cfg.Storage.Backend = opts.backend
	}
	if opts.path != "" {
		cfg.Storage.Path = opts.path
	}
	holder := config.NewHolder(cfg)

	store, err := storage.Open(storage.Kind(cfg.Storage.Backend), cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("STORE_CLOSE_FAILED", zap.Error(err))
		}
	}()

	orch := buildOrchestrator(cfg, holder, store, logger)
	srv := server.New(store, orch, holder).WithLogger(logger)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}
	if opts.ready != nil {
		opts.ready(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), holder.Load().Server.ShutdownTimeout())
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Serve may not have installed its http.Server yet.
		_ = ln.Close()
		return err
	})

	if path := a.configFile(); path != "" && !opts.noWatch {
		watcher := config.NewWatcher(path,
			func(next *config.Config) {
				applyReload(holder, next, logger)
			},
			func(err error) {
				logger.Warn("CONFIG_RELOAD_FAILED", zap.String("path", path), zap.Error(err))
			},
		)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
		logger.Info("CONFIG_WATCH", zap.String("path", path))
	}

	return g.Wait()
}

// buildOrchestrator wires the upstream clients. Retrieval is left out
// entirely when its credentials are missing so every exchange goes
// straight to completion with the no-context instruction.
func buildOrchestrator(cfg *config.Config, holder *config.Holder, store storage.Store, logger *zap.Logger) *orchestrator.Orchestrator {
	completer := completion.New(cfg.Completion).WithLogger(logger)
	if err := completer.Configured(); err != nil {
		logger.Warn("COMPLETION_NOT_CONFIGURED",
			zap.Strings("missing", cfg.Completion.Missing()),
		)
	} else {
		logger.Info("COMPLETION_CONFIGURED",
			zap.String("deployment", completer.Deployment()),
			zap.String("key_fingerprint", completer.KeyFingerprint()),
		)
	}

	var retriever orchestrator.Retriever
	rc := retrieval.New(cfg.Retrieval).WithLogger(logger)
	if err := rc.Configured(); err != nil {
		logger.Warn("RETRIEVAL_DISABLED", zap.Error(err))
	} else {
		retriever = rc
		logger.Info("RETRIEVAL_CONFIGURED",
			zap.String("index", cfg.Retrieval.IndexName),
			zap.String("key_fingerprint", rc.KeyFingerprint()),
		)
	}

	return orchestrator.New(store, retriever, completer,
		orchestrator.WithLogger(logger),
		orchestrator.WithSettings(func() orchestrator.Settings {
			return orchestrator.SettingsFromConfig(holder.Load())
		}),
	)
}

// applyReload swaps in the settings that are safe to change live.
// Listener, storage and credentials keep their startup values.
func applyReload(holder *config.Holder, next *config.Config, logger *zap.Logger) {
	cur := holder.Load().Clone()
	cur.Prompt = next.Prompt
	cur.History = next.History
	cur.Retrieval.SimilarityTopK = next.Retrieval.SimilarityTopK
	cur.Server.StreamTimeoutSecs = next.Server.StreamTimeoutSecs
	cur.Server.ShutdownTimeoutSecs = next.Server.ShutdownTimeoutSecs
	holder.Store(cur)

	logger.Info("CONFIG_RELOADED",
		zap.Int("max_history", cur.History.MaxMessages),
		zap.Int("top_k", cur.Retrieval.SimilarityTopK),
		zap.Duration("stream_timeout", cur.Server.StreamTimeout()),
	)
}
