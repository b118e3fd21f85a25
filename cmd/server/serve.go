package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmprof-mcp/internal/store"
)

const version = "1.0.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cache := store.New(store.WithLogger(logger.Named("store")))
	if cfg.Server.WatchProfiles {
		if err := cache.Watch(ctx); err != nil {
			logger.Warn("profile watching disabled", zap.Error(err))
		}
	}

	s := newMCPServer(&tools{cache: cache, cfg: cfg, logger: logger.Named("tools")})

	logger.Info("starting MCP server",
		zap.String("name", cfg.Server.Name),
		zap.String("transport", cfg.Server.Transport),
	)

	switch cfg.Server.Transport {
	case "sse":
		srv := server.NewSSEServer(s)
		return serveHTTP(ctx, cfg.Server.Address, srv.Start, srv.Shutdown)
	case "http":
		srv := server.NewStreamableHTTPServer(s)
		return serveHTTP(ctx, cfg.Server.Address, srv.Start, srv.Shutdown)
	default:
		return server.ServeStdio(s)
	}
}

// serveHTTP runs start until ctx is cancelled, then shuts the server down.
func serveHTTP(ctx context.Context, addr string, start func(string) error, shutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", addr))
		errCh <- start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
