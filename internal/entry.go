// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/backlinks/internal/api"
	"github.com/starford/backlinks/internal/index"
	"github.com/starford/backlinks/internal/mcpserver"
	"github.com/starford/backlinks/internal/sse"
	"github.com/starford/backlinks/internal/storage"
	"github.com/starford/backlinks/internal/wiki"
)

// components is everything a command needs after configuration.
type components struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
}

func (c *components) Close() {
	if err := c.db.Close(); err != nil {
		c.logger.Warn("index close failed", slog.String("error", err.Error()))
	}
}

func setup(opts []Option) (*components, *application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("pages_path", cfg.Wiki.PagesPath),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("watch", cfg.Wiki.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Wiki.PagesPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create pages dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Wiki.PagesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}

	return &components{cfg: cfg, logger: logger, store: store, db: db}, app, nil
}

// Run starts the HTTP server, the page watcher and the event broker.
func Run(ctx context.Context, opts ...Option) error {
	c, _, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg, logger := c.cfg, c.logger

	broker := sse.NewBroker(cfg.Events.Throttle)
	defer broker.Close()

	svc := wiki.NewService(c.store, c.db, broker, logger)

	// Catch up with edits made while the server was down.
	if stats, err := svc.Reindex(ctx, false); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync done",
			slog.Int("indexed", stats.Indexed),
			slog.Int("removed", stats.Removed),
			slog.Int("unchanged", stats.Unchanged),
			slog.Int("failed", stats.Failed))
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := svc.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Wiki.Watch {
		g.Go(func() error {
			if err := index.Watch(gCtx, c.db, c.store, c.store.Root(), svc, logger); err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

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
		defer signal.Stop(quit)

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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// Reindex brings the link index up to date with the pages directory and
// exits. With full set, every page is re-extracted.
func Reindex(ctx context.Context, full bool, opts ...Option) (index.SyncStats, error) {
	c, _, err := setup(opts)
	if err != nil {
		return index.SyncStats{}, err
	}
	defer c.Close()

	svc := wiki.NewService(c.store, c.db, nil, c.logger)
	stats, err := svc.Reindex(ctx, full)
	if err != nil {
		return stats, fmt.Errorf("reindex: %w", err)
	}
	c.logger.Info("reindex done",
		slog.Bool("full", full),
		slog.Int("indexed", stats.Indexed),
		slog.Int("removed", stats.Removed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// ServeMCP serves the wiki tools over stdio. Logs must not go to stdout here,
// so callers pass WithLogOutput(os.Stderr).
func ServeMCP(ctx context.Context, opts ...Option) error {
	c, app, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	svc := wiki.NewService(c.store, c.db, nil, c.logger)
	if _, err := svc.Reindex(ctx, false); err != nil {
		c.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	g, gCtx := errgroup.WithContext(ctx)
	if c.cfg.Wiki.Watch {
		g.Go(func() error {
			if err := index.Watch(gCtx, c.db, c.store, c.store.Root(), svc, c.logger); err != nil {
				c.logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := mcpserver.New(svc, app.version).ServeStdio(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}
