// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/nbkeep/internal/api"
	"github.com/starford/nbkeep/internal/backup"
	"github.com/starford/nbkeep/internal/hotexit"
	"github.com/starford/nbkeep/internal/mcpserver"
	"github.com/starford/nbkeep/internal/models"
	"github.com/starford/nbkeep/internal/notebook"
	"github.com/starford/nbkeep/internal/session"
	"github.com/starford/nbkeep/internal/sse"
	"github.com/starford/nbkeep/internal/state"
	"github.com/starford/nbkeep/internal/storage"
	"github.com/starford/nbkeep/internal/trust"
	"github.com/starford/nbkeep/internal/watch"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	mcpMode := app.mcpOnly || cfg.MCP.Enabled

	// Initialize structured JSON logger. Stdout belongs to the MCP transport
	// in MCP mode.
	var logOut io.Writer = os.Stdout
	if mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	backupDir, err := cfg.Storage.AbsPath()
	if err != nil {
		return fmt.Errorf("resolve global storage path: %w", err)
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("global_storage_path", backupDir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("mcp", mcpMode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	for _, dir := range []string{cfg.Workspace.Path, backupDir, filepath.Dir(cfg.SQLite.Path)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Initialize SQLite state.
	db, err := state.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	defer db.Close()

	fsys := storage.NewOS()
	store, err := hotexit.New(ctx, hotexit.Options{
		Dir:        backupDir,
		FS:         fsys,
		Global:     db.KV(state.ScopeGlobal),
		Workspace:  db.KV(state.ScopeWorkspace),
		Migrations: db,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init hot-exit store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coord := backup.NewCoordinator(store, logger, backup.NewMetrics(registry))
	// Pending backups are flushed before the database closes.
	defer coord.Wait()

	svc, err := notebook.NewService(notebook.Options{
		FS:            fsys,
		Dirty:         store,
		Backups:       coord,
		Trust:         trust.NewStore(db),
		Logger:        logger,
		PythonVersion: cfg.Python.DefaultMajorVersion,
	})
	if err != nil {
		return fmt.Errorf("init notebook service: %w", err)
	}
	open := notebook.NewRegistry()
	svc.Subscribe(open)

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	svc.Subscribe(broker)

	sessions := session.NewService(svc, open, broker, logger)

	if mcpMode {
		logger.Info("Serving MCP on stdio")
		if err := mcpserver.New(sessions, store).ServeStdio(); err != nil {
			return fmt.Errorf("mcp server error: %w", err)
		}
		return nil
	}

	apiRouter := api.NewRouter(sessions, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher; external edits reach open sessions and SSE clients.
	g.Go(func() error {
		err := watch.Watch(gCtx, watch.Options{
			Root:   cfg.Workspace.Path,
			Ignore: []string{store.Dir()},
			Logger: logger,
		}, func(kind watch.Kind, uri models.URI) {
			if kind == watch.Changed {
				sessions.FileChanged(gCtx, uri)
			}
			broker.PublishNotebookEvent(string(kind), uri)
		})
		if err != nil {
			logger.Warn("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
