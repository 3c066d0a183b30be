// Command server runs the screenvault HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/screenvault/screenvault/internal/api"
	"github.com/screenvault/screenvault/internal/cache"
	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/database"
	"github.com/screenvault/screenvault/internal/ingest"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/provider"
	"github.com/screenvault/screenvault/internal/queue"
	"github.com/screenvault/screenvault/internal/repository"
	"github.com/screenvault/screenvault/internal/search"
	"github.com/screenvault/screenvault/internal/storage"
	"github.com/screenvault/screenvault/internal/vector"
)

func main() {
	logger := observability.NewLogger("server")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db, cfg.Database); err != nil {
		logger.Error("Failed to apply migrations", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	redisCache, err := cache.NewRedisCache(cfg.Cache)
	if err != nil {
		logger.Error("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() { _ = redisCache.Close() }()

	blobs, err := storage.NewS3Client(ctx, cfg.Storage)
	if err != nil {
		logger.Error("Failed to create blob store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	jobs, err := queue.NewSQSQueue(ctx, cfg.Queue, nil)
	if err != nil {
		logger.Error("Failed to create job queue", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	p, err := provider.New(ctx, cfg.Provider, nil)
	if err != nil {
		logger.Error("Failed to create analysis provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	metrics := observability.NewMetricsClient()
	screenshots := repository.NewScreenshotRepository(db)
	history := repository.NewQueryHistoryRepository(db)
	index := vector.NewRepository(db, nil)

	coordinator := ingest.NewCoordinator(
		screenshots, index, blobs, jobs, redisCache,
		cfg.Storage.SignedURLTTL, nil, metrics)
	engine := search.NewEngine(p, index, screenshots, history, nil, metrics)

	server := api.NewServer(cfg.API, coordinator, engine, logger, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("Server stopped", nil)
}
