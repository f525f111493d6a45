package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/server"
	"github.com/hyperjump/shiori/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(g *globals) *cobra.Command {
	var (
		port    int
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server. Configured watch directories are synced on startup
and kept indexed while the server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				if cmd.Flags().Changed("port") {
					cfg.Server.Port = port
				}
				flush, sentryEnabled := server.InitSentry(cfg.Sentry, cfg.Debug, c.logger)
				defer flush()

				opts := []server.Option{
					server.WithSentry(sentryEnabled),
					server.WithDelimiter(cfg.Search.Delimiter),
				}
				if !noWatch && len(cfg.Watch.Directories) > 0 {
					w, err := startWatcher(ctx, g, cfg, c)
					if err != nil {
						return err
					}
					defer w.Stop()
					opts = append(opts, server.WithWatcher(w))
				}

				srv := server.NewServer(c.engine, &cfg.Server, c.logger, opts...)
				errCh := make(chan error, 1)
				go func() {
					if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()

				select {
				case err, ok := <-errCh:
					if ok {
						return fmt.Errorf("server failed: %w", err)
					}
					return nil
				case <-ctx.Done():
				}

				c.logger.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Stop(shutdownCtx); err != nil {
					c.logger.Error("server shutdown failed", zap.Error(err))
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch configured directories")
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index watch directories and keep them indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				if len(dirs) > 0 {
					cfg.Watch.Directories = dirs
				}
				if len(cfg.Watch.Directories) == 0 {
					return fmt.Errorf("no directories to watch; set watch.directories or pass --dir")
				}
				w, err := startWatcher(ctx, g, cfg, c)
				if err != nil {
					return err
				}
				defer w.Stop()
				fmt.Fprintf(cmd.OutOrStdout(), "Watching %d directories. Press Ctrl+C to stop.\n", len(w.Directories()))
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&dirs, "dir", "d", nil, "Directory to watch (repeatable; overrides config)")
	return cmd
}

// startWatcher syncs existing files and starts watching for changes.
func startWatcher(ctx context.Context, g *globals, cfg *config.Config, c *components) (*watcher.Watcher, error) {
	w := watcher.New(c.pipeline, watcher.Config{
		Directories: cfg.Watch.Directories,
		Extensions:  cfg.Watch.Extensions,
		Recursive:   cfg.Watch.RecursiveOrDefault(),
		User:        g.userFor(cfg),
	}, watcher.WithLogger(c.logger))
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	report, err := w.SyncExisting(ctx)
	if err != nil {
		w.Stop()
		return nil, fmt.Errorf("initial sync failed: %w", err)
	}
	c.logger.Info("initial sync complete",
		zap.Int("indexed", report.Indexed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return w, nil
}
