// Warm-transfer call console server
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

	"github.com/ashureev/warmtransfer/internal/api"
	"github.com/ashureev/warmtransfer/internal/backend"
	"github.com/ashureev/warmtransfer/internal/config"
	"github.com/ashureev/warmtransfer/internal/identity"
	"github.com/ashureev/warmtransfer/internal/middleware"
	"github.com/ashureev/warmtransfer/internal/session"
	"github.com/ashureev/warmtransfer/internal/store"
	"github.com/ashureev/warmtransfer/internal/stream"
	"github.com/ashureev/warmtransfer/internal/transport"
	"github.com/ashureev/warmtransfer/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend_url", cfg.Backend.URL)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	backendClient := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, cfg.Backend.TokenSkew)
	transports := transport.NewFactory()
	hub := stream.NewHub()

	// One controller per browser tab, pushing its state to that tab's websocket.
	registry := session.NewRegistry(func(owner session.Owner) *session.Controller {
		return session.NewController(backendClient, transports, repo, hub.Sink(owner.UserID, owner.TabID), session.Config{
			Owner:             owner,
			AdaptiveStream:    cfg.Session.AdaptiveStream,
			PublishLocalMedia: cfg.Session.PublishLocalMedia,
			ResyncInterval:    cfg.Session.ResyncInterval,
			RedirectDelay:     cfg.Session.RedirectDelay,
			RedirectPath:      cfg.Session.RedirectPath,
			NotifyTimeout:     cfg.Backend.Timeout,
		})
	})

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, registry)
	sessionHandler := api.NewSessionHandler(baseHandler, cfg.Timeout.Join)
	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)
	streamHandler := stream.NewHandler(hub, registry, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/session", streamHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Websocket pushes are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartReaper(ctx, registry, repo, cfg.Session.IdleTTL, cfg.Session.RecordRetention)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Tabs are gone with the process; tear sessions down without leave notifications.
	registry.CloseAll()
	hub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
