// replgate - web control surface for a conversational code-execution engine
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/replgate/replgate/internal/api"
	"github.com/replgate/replgate/internal/config"
	"github.com/replgate/replgate/internal/engine"
	"github.com/replgate/replgate/internal/eventlog"
	"github.com/replgate/replgate/internal/history"
	"github.com/replgate/replgate/internal/middleware"
	"github.com/replgate/replgate/internal/relay"
	"github.com/replgate/replgate/internal/session"
	"github.com/replgate/replgate/internal/settings"
	"github.com/replgate/replgate/internal/ws"
	"github.com/replgate/replgate/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "engine", cfg.EngineAddr, "dev", cfg.IsDevelopment())

	// Connect to the engine daemon. The engine is the process-wide stateful
	// collaborator; everything below serializes through one session.
	eng, err := engine.DialRemote(context.Background(), engine.RemoteConfig{
		Address:        cfg.EngineAddr,
		ConnectTimeout: cfg.EngineConnectTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to connect to engine", "error", err)
		os.Exit(1)
	}

	sess, err := session.New(context.Background(), eng)
	if err != nil {
		slog.Error("Failed to initialize session", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			slog.Error("Failed to close engine", "error", closeErr)
		}
	}()

	// Apply the optional startup profile before serving anything.
	if cfg.ProfilePath != "" {
		patch, err := settings.LoadProfile(cfg.ProfilePath)
		if err != nil {
			slog.Error("Failed to load settings profile", "path", cfg.ProfilePath, "error", err)
			os.Exit(1)
		}
		if err := sess.Apply(context.Background(), patch); err != nil {
			slog.Error("Failed to apply settings profile", "path", cfg.ProfilePath, "error", err)
			os.Exit(1)
		}
		slog.Info("Settings profile applied", "path", cfg.ProfilePath)
	}

	store, err := history.New(cfg.HistoryDir)
	if err != nil {
		slog.Error("Failed to initialize history store", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		slog.Error("Failed to create upload directory", "error", err)
		os.Exit(1)
	}

	events, err := eventlog.New(eventlog.Config{
		Enabled:   cfg.EventLog.Enabled,
		Dir:       cfg.EventLog.Dir,
		QueueSize: cfg.EventLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize event log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := events.Close(); closeErr != nil {
			slog.Error("Failed to close event log", "error", closeErr)
		}
	}()

	// Initialize services and handlers.
	registry := ws.NewRegistry()
	rel := relay.New(sess)
	apiHandler := api.NewHandler(sess, store, cfg.UploadDir)
	wsHandler := ws.NewHandler(registry, sess, rel, events, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Streaming relays need long-lived writes: no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	registry.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
