package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joshua-takyi/fieldbook/internal/config"
	"github.com/joshua-takyi/fieldbook/internal/container"
	"github.com/joshua-takyi/fieldbook/internal/obs"
	"github.com/joshua-takyi/fieldbook/internal/routes"
)

var Version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("Starting fieldbook API server", "environment", cfg.Environment, "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, "fieldbook-api", Version, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	appContainer, err := container.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	if err := appContainer.WithTokenValidator(); err != nil {
		logger.Error("Failed to initialize token validation", "error", err)
		_ = appContainer.Close(context.Background())
		os.Exit(1)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := appContainer.Store.EnsureSchema(schemaCtx); err != nil {
		logger.Error("Failed to prepare storage schema", "error", err)
	}
	cancel()

	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		appContainer.Sweeper.Run(sweeperCtx)
	}()

	router := routes.SetupRoutes(appContainer)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	stopSweeper()
	<-sweeperDone

	if err := appContainer.Close(shutdownCtx); err != nil {
		logger.Error("Error releasing resources", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("Error flushing traces", "error", err)
	}

	logger.Info("Server exited")
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(cfg.LogLevel, slog.LevelInfo),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(cfg.LogLevel, slog.LevelDebug),
		})
	}

	return slog.New(handler)
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return fallback
	}
	return level
}
