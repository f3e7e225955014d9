package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ashureev/growthdesk/internal/api"
	"github.com/ashureev/growthdesk/internal/app"
	"github.com/ashureev/growthdesk/internal/auth"
	"github.com/ashureev/growthdesk/internal/cache"
	"github.com/ashureev/growthdesk/internal/generator"
	"github.com/ashureev/growthdesk/internal/identity"
	"github.com/ashureev/growthdesk/internal/llm"
	"github.com/ashureev/growthdesk/internal/middleware"
	"github.com/ashureev/growthdesk/internal/store"
	"github.com/ashureev/growthdesk/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.LLM.Provider)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected")

	client, closeClient, err := llm.NewFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		slog.Error("Failed to initialize generator backend", "error", err)
		return err
	}
	defer func() {
		if closeErr := closeClient(); closeErr != nil {
			slog.Warn("Failed to close generator backend", "error", closeErr)
		}
	}()

	catalog, err := generator.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("load prompt catalog: %w", err)
	}
	gen, err := generator.New(client, catalog, logger)
	if err != nil {
		return err
	}

	provider := auth.NewLocal(repo, cfg.SessionTTL, logger)
	defer provider.Close()

	results := cache.New(cfg.Tactical.CacheTTL)
	limiter := api.NewRateLimiter(cfg.Tactical.Limit, cfg.Tactical.Window)
	defer limiter.Stop()

	opts := app.Options{
		DefaultLanguage: cfg.DefaultLanguage,
		TransitionDelay: cfg.TransitionDelay,
		SubActionClear:  cfg.SubActionClear,
	}
	controllers := api.NewControllers(ctx, func(deviceID string) *app.Controller {
		return app.NewController(deviceID, provider, repo, gen, results.Scoped(api.CachePrefix(deviceID)), opts, logger)
	}, logger)
	streams := api.NewStreamManager()

	// Initialize handlers.
	handler := api.NewHandler(api.HandlerConfig{
		Controllers:     controllers,
		Auth:            provider,
		Tactical:        gen,
		Cache:           results,
		Limiter:         limiter,
		DefaultLanguage: cfg.DefaultLanguage,
		MaxBodySize:     cfg.MaxRequestBody,
		Logger:          logger,
	})
	healthHandler := api.NewHealthHandler(repo, controllers)
	wsHandler := api.NewStateSocket(controllers, streams, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware; sign-in is per device.
	handler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/state", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// State streams are long-lived; no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	api.StartSweeper(ctx, repo, results, controllers, streams, cfg.Sweep.Interval, cfg.Sweep.IdleTTL, streams.CloseDevice)

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			return err
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := controllers.CloseAll(shutdownCtx); err != nil {
		slog.Warn("Pending writes did not finish before shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
