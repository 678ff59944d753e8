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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/waypoint/internal/api"
	"github.com/starford/waypoint/internal/blend"
	"github.com/starford/waypoint/internal/editservice"
	"github.com/starford/waypoint/internal/kinematics"
	"github.com/starford/waypoint/internal/mcpserver"
	"github.com/starford/waypoint/internal/sse"
	"github.com/starford/waypoint/internal/store"
	"github.com/starford/waypoint/internal/timeline"
	"github.com/starford/waypoint/internal/trajfile"
	"github.com/starford/waypoint/internal/watch"
)

func (a *application) setup(opts []Option) (*Config, *slog.Logger, error) {
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if a.logOutput == nil {
		a.logOutput = os.Stdout
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return a.config, logger, nil
}

// session bundles the store and the editing service built from a config.
type session struct {
	db  *store.DB
	svc *editservice.Service
}

func newSession(cfg *Config, logger *slog.Logger, pub editservice.Publisher) (*session, error) {
	layout := cfg.Layout()

	chain, err := kinematics.NewChain(layout, cfg.Model.Chain())
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	solver := kinematics.NewSolver(chain, cfg.Commit.SolverTolerance, cfg.Commit.SolverDamping)
	engine, err := blend.NewEngine(layout, chain, solver, cfg.Commit.EngineOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	loader := &store.Loader{DB: db, Path: cfg.Trajectory.InputFile, DoF: layout.RobotDoF, Logger: logger}
	tl := timeline.New(layout.TimelineSize, layout.RobotDoF, loader, logger)
	svc := editservice.New(engine, tl, db, pub, blend.Body(cfg.Trajectory.BodyID), logger)
	return &session{db: db, svc: svc}, nil
}

func (s *session) Close() {
	s.svc.Close()
	_ = s.db.Close()
}

// startWatcher reloads the timeline whenever the input file changes.
func startWatcher(ctx context.Context, g *errgroup.Group, cfg *Config, svc *editservice.Service, logger *slog.Logger) {
	if !cfg.Trajectory.Watch || cfg.Trajectory.InputFile == "" {
		return
	}
	g.Go(func() error {
		if err := os.MkdirAll(filepath.Dir(cfg.Trajectory.InputFile), 0o755); err != nil {
			logger.Warn("watcher: create input dir failed", slog.String("error", err.Error()))
			return nil
		}
		if err := watch.Watch(ctx, cfg.Trajectory.InputFile, cfg.Trajectory.WatchDebounce, logger, svc.Reload); err != nil {
			logger.Warn("watcher: not started", slog.String("error", err.Error()))
		}
		return nil
	})
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	cfg, logger, err := (&application{}).setup(opts)
	if err != nil {
		return err
	}

	layout := cfg.Layout()
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("input_file", cfg.Trajectory.InputFile),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("timeline_size", layout.TimelineSize),
		slog.Int("node_count", layout.NodeCount),
		slog.Int("robot_dof", layout.RobotDoF),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(cfg.App.NodesThrottle)
	defer broker.Close()

	sess, err := newSession(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.svc.Init(ctx); err != nil {
		logger.Warn("initial load failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(sess.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := sess.svc.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	startWatcher(gCtx, g, cfg, sess.svc, logger)

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

// errShutdown cancels the group's context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the editing tools over stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	cfg, logger, err := (&application{}).setup(opts)
	if err != nil {
		return err
	}

	sess, err := newSession(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.svc.Init(ctx); err != nil {
		logger.Warn("initial load failed", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(ctx)
	startWatcher(gCtx, g, cfg, sess.svc, logger)

	srv := mcpserver.New(sess.svc, mcpserver.Source{
		Path:   cfg.Trajectory.InputFile,
		Frames: cfg.Trajectory.TimelineSize,
		DoF:    cfg.Layout().RobotDoF,
	})
	logger.Info("MCP server starting on stdio")
	serveErr := srv.ServeStdio()

	cancel()
	_ = g.Wait()
	return serveErr
}

// Generate writes a synthetic closed trajectory sized for the configured model.
func Generate(cfg *Config, path string) error {
	l := cfg.Layout()
	if err := trajfile.WriteFile(path, trajfile.Cyclic(l.TimelineSize, l.RobotDoF)); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	return nil
}
