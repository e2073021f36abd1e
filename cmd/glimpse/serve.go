package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/glimpse/api"
	"github.com/use-agent/glimpse/api/handler"
	"github.com/use-agent/glimpse/config"
	"github.com/use-agent/glimpse/webhook"
)

func newServeCmd(loadConfig func() *config.Config) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if port > 0 {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override GLIMPSE_PORT")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("glimpse starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
		"cacheDir", cfg.Cache.Dir,
	)
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth enabled with no GLIMPSE_API_KEYS; the API is open")
	}

	a := newApp(cfg)
	defer a.close()

	// Sweepers and batch jobs run until the server has drained.
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	batches := handler.NewBatches(bgCtx, a.orchestrator, webhook.NewSender())
	router := api.NewRouter(bgCtx, a.orchestrator, a.session, batches, cfg, time.Now())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Batch jobs must stop before the browser is torn down.
	cancelBg()
	batches.Wait()

	slog.Info("glimpse stopped")
	return nil
}
