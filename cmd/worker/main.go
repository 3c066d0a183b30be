// Command worker runs the enrichment worker pool: it consumes queued
// screenshots, drives them through analysis, embedding and indexing,
// and periodically reconciles the vector index.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/screenvault/screenvault/internal/cache"
	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/database"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/pipeline"
	"github.com/screenvault/screenvault/internal/provider"
	"github.com/screenvault/screenvault/internal/queue"
	"github.com/screenvault/screenvault/internal/repository"
	"github.com/screenvault/screenvault/internal/storage"
	"github.com/screenvault/screenvault/internal/vector"
	"github.com/screenvault/screenvault/internal/worker"
)

func main() {
	logger := observability.NewLogger("worker")

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
	index := vector.NewRepository(db, nil)

	pipe := pipeline.New(screenshots, index, blobs, p, nil, metrics)
	guard := worker.NewInFlightGuard(redisCache.Client(), cfg.Worker.LockTTL)

	w := worker.New(jobs, pipe, screenshots, guard, cfg.Worker, logger, metrics)
	w.Run(ctx)
}
