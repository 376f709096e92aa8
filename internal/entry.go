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
	"golang.org/x/sync/errgroup"

	"github.com/starford/quill/internal/api"
	"github.com/starford/quill/internal/backend"
	"github.com/starford/quill/internal/graphql"
	"github.com/starford/quill/internal/mcpserver"
	"github.com/starford/quill/internal/notesync"
	"github.com/starford/quill/internal/sse"
	"github.com/starford/quill/internal/state"
	pkgconfig "github.com/starford/quill/pkg/config"
)

var errConfigRequired = errors.New("config is required")

const (
	snapshotThrottle = 250 * time.Millisecond
	shutdownTimeout  = 10 * time.Second
)

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// runtime is the client-side object graph shared by the serve and mcp modes.
type runtime struct {
	logger *slog.Logger
	store  *state.Store
	broker *sse.Broker
	ctrl   *notesync.Controller
}

func newRuntime(cfg *Config, logger *slog.Logger) *runtime {
	broker := sse.NewBroker(snapshotThrottle)

	store := state.NewStore(state.Initial(), func(a state.Action, next state.State) {
		logger.Debug("state transition", slog.String("action", a.Type()), slog.String("status", next.Status()))
		broker.PublishStateEvent(a.Type(), api.View(next))
	})

	remote := graphql.New(cfg.Remote.Endpoint,
		graphql.WithAPIKey(cfg.Remote.APIKey),
		graphql.WithTimeout(cfg.Remote.Timeout),
	)

	session := notesync.NewSession(cfg.Session.ClientID)
	logger.Info("Session started", slog.String("client_id", session.ClientID))

	ctrl := notesync.New(store, remote, session,
		notesync.WithLogger(logger),
		notesync.WithMutationTimeout(cfg.Remote.MutationTimeout),
	)

	return &runtime{logger: logger, store: store, broker: broker, ctrl: ctrl}
}

// load runs the initial fetch and announces its outcome to event subscribers.
// Load failures land in state; only a repeated call errors.
func (rt *runtime) load(ctx context.Context) {
	if err := rt.ctrl.Load(ctx); err != nil {
		rt.logger.Debug("initial load skipped", slog.String("error", err.Error()))
		return
	}
	rt.broker.Publish(sse.Event{Type: "session.loaded", Data: map[string]string{
		"client_id": rt.ctrl.Session().ClientID,
		"phase":     rt.ctrl.Phase(),
	}})
}

// close waits for pending mutations before stopping the store and broker.
func (rt *runtime) close() {
	rt.ctrl.Wait()
	rt.store.Close()
	rt.logger.Info("Closing event stream", slog.Int("clients", rt.broker.ClientCount()))
	rt.broker.Close()
}

func newBaseRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

// serve runs httpServer and the extra tasks until a signal arrives or any
// task fails, then shuts the server down.
func serve(ctx context.Context, logger *slog.Logger, httpServer *http.Server, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		g.Go(func() error {
			return task(gCtx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Run starts the note client: the local HTTP API, the event stream and the
// initial load from the remote service.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	logger := newLogger(os.Stdout, level)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("remote_endpoint", cfg.Remote.Endpoint),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt := newRuntime(cfg, logger)
	defer rt.close()

	r := newBaseRouter()
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch rt.ctrl.Phase() {
		case notesync.PhaseUninitialized, notesync.PhaseLoading:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	})
	r.Mount("/api", api.NewRouter(rt.ctrl, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.broker))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			rt.load(ctx)
			return nil
		},
	}
	if app.configPath != "" {
		tasks = append(tasks, func(ctx context.Context) error {
			err := pkgconfig.Watch(ctx, app.configPath, NewDefaultConfig, logger, func(next *Config) {
				level.Set(next.App.LogLevel)
				logger.Info("Configuration reloaded", slog.String("log_level", next.App.LogLevel.String()))
			})
			if err != nil {
				logger.Warn("config watch disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))
	if err := serve(ctx, logger, httpServer, tasks...); err != nil {
		return err
	}

	logger.Info("Server stopped successfully", slog.Int("inflight", rt.ctrl.Inflight()))
	return nil
}

// RunMCP loads the notes and exposes the controller as MCP tools over stdio.
// Logs go to stderr so stdout stays reserved for the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	logger := newLogger(os.Stderr, level)

	rt := newRuntime(cfg, logger)
	defer rt.close()

	rt.load(ctx)

	logger.Info("MCP server starting", slog.String("version", app.version))
	if err := mcpserver.New(rt.ctrl, app.version).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// RunBackend serves the SQLite-backed GraphQL note service.
func RunBackend(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	logger := newLogger(os.Stdout, level)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.Backend.HTTP.Address()),
		slog.String("sqlite_path", cfg.Backend.SQLitePath),
		slog.Bool("api_key_required", cfg.Backend.APIKey != ""))

	if dir := filepath.Dir(cfg.Backend.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := backend.Open(cfg.Backend.SQLitePath)
	if err != nil {
		return fmt.Errorf("init backend: %w", err)
	}
	defer db.Close()

	r := newBaseRouter()
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := db.ListNotes(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/", backend.NewRouter(db, cfg.Backend.APIKey))

	httpServer := &http.Server{
		Addr:    cfg.Backend.HTTP.Address(),
		Handler: r,
	}

	if err := serve(ctx, logger, httpServer); err != nil {
		return err
	}
	logger.Info("Backend stopped successfully")
	return nil
}
