package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/atelierhq/collabd/internal/config"
	"github.com/atelierhq/collabd/internal/deploy"
	"github.com/atelierhq/collabd/internal/fileops"
	"github.com/atelierhq/collabd/internal/server"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration server",
		Long: `Start the WebSocket server and the HTTP sidecar endpoints.

Routes:
  /ws                WebSocket upgrade, default workspace
  /ws/{workspace}    WebSocket upgrade into a named workspace
  /metrics           Prometheus metrics
  /healthz           liveness probe

Examples:
  collabd serve
  collabd serve --config=collabd.yaml
  collabd serve --addr=127.0.0.1:9000 --workspace=/srv/project`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, addr, workspace)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace root directory (overrides config)")

	return cmd
}

func runServe(configPath, addr, workspace string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	if workspace == "" {
		workspace = cfg.Server.WorkspaceRoot
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(server.Config{
		Addr:        addr,
		CheckOrigin: func(r *http.Request) bool { return true },
		RateLimit: &server.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
		},
		TokenSecret:    []byte(cfg.Auth.Secret),
		TokenTTL:       cfg.Auth.TokenTTL,
		Permissions:    cfg.Permissions,
		FileOperations: fileops.NewManager(workspace, logger).Handler(),
		Deployment:     deploy.NewManager(workspace, logger).Handler(),
		Logger:         logger,
		PromRegistry:   registry,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Get("/ws", srv.HandleUpgrade)
	r.Get("/ws/{workspace}", srv.HandleUpgrade)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":             "ok",
			"active_connections": srv.Metrics().Collect().ActiveConnections,
		})
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "workspace_root", workspace)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("session teardown", "err", err)
	}
	return httpServer.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}
