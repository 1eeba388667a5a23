// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serve implements the 'serve' command, which runs the host: the
// descriptor file watcher, the per-session server registries and the HTTP
// API with the UI realm websocket.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/api"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/config"
	"github.com/tombee/mcphost/internal/host"
	"github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/mcp"
	"github.com/tombee/mcphost/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host",
		Long: `Run mcphost in the foreground.

Settings come from config.yaml in the config directory (or --config),
MCPHOST_* environment variables and the flags below, in increasing order
of precedence. The servers in servers.yaml are applied on startup and
again whenever the file changes.`,
		Example: `  # Serve on the default address
  mcphost serve

  # Serve another descriptor file with debug logging
  mcphost serve --servers ./servers.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(shared.GetConfigPath(), cmd.Flags())
			if err != nil {
				return err
			}

			logger := newLogger(settings)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(ctx, settings, logger, func(addr string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "mcphost listening on %s\n", addr)
			})
		},
	}

	cmd.Flags().String("servers", "", "Path to the servers.yaml descriptor file")
	cmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().Bool("strict-arguments", false, "Reject tool calls whose arguments are not valid JSON")
	cmd.Flags().String("trace", "", "Trace exporter (none, stdout, otlp)")

	return cmd
}

func newLogger(settings *config.Settings) *slog.Logger {
	cfg := log.FromEnv()
	if settings.LogLevel != "" {
		cfg.Level = settings.LogLevel
	}
	if settings.LogFormat != "" {
		cfg.Format = log.Format(settings.LogFormat)
	}
	if shared.GetVerbose() {
		cfg.Level = "debug"
	}
	return log.New(cfg)
}

// Run serves until ctx is done, then shuts down gracefully. ready, when
// non-nil, receives the bound listen address.
func Run(ctx context.Context, settings *config.Settings, logger *slog.Logger, ready func(addr string)) error {
	version, _, _ := shared.GetVersion()
	logger = log.WithComponent(logger, "serve")

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    "mcphost",
		ServiceVersion: version,
		Exporter:       settings.Trace.Exporter,
		Endpoint:       settings.Trace.Endpoint,
		SampleRate:     settings.Trace.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			logger.Warn("failed to flush traces", log.Error(err))
		}
	}()

	h, err := host.New(host.Config{
		ServersFile: settings.ServersFile,
		Watch:       settings.WatchServers,
		Client: mcp.ClientOptions{
			Logger:          slog.Default(),
			ConnectTimeout:  settings.ConnectTimeout,
			CallTimeout:     settings.CallTimeout,
			StrictArguments: settings.StrictArguments,
			RuntimePaths:    settings.RuntimePaths,
			Version:         version,
		},
		Logger: slog.Default(),
	})
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	handler, err := api.NewServer(api.Config{Host: h, Version: version, Logger: slog.Default()})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", settings.Listen)
	if err != nil {
		_ = h.Shutdown(context.Background())
		return shared.NewUnavailableError("cannot listen on "+settings.Listen, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("mcphost started", "addr", ln.Addr().String(), "servers_file", settings.ServersFile)
	if ready != nil {
		ready(ln.Addr().String())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("http server failed", log.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked, so the host closes them before
	// the HTTP server drains the rest.
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Warn("host shutdown incomplete", log.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http shutdown incomplete", log.Error(err))
	}

	logger.Info("mcphost stopped")
	return serveErr
}
