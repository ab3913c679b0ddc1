package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/api"
	"github.com/sitewarden/sitewarden/internal/cache"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/detect"
	"github.com/sitewarden/sitewarden/internal/metrics"
	"github.com/sitewarden/sitewarden/internal/notify"
	"github.com/sitewarden/sitewarden/internal/probe"
	"github.com/sitewarden/sitewarden/internal/scheduler"
	"github.com/sitewarden/sitewarden/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Server.Mode)
	defer logger.Sync()

	if err := store.Migrate(cfg.Database.URL); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := store.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repo := store.NewRepository(db)

	cacheClient := cache.New(cfg.Redis.URL)
	defer cacheClient.Close()

	collector := metrics.NewCollector(prometheus.NewRegistry(), cfg.RemoteWrite)

	// Manual checks triggered over the API run the same pipeline the
	// scheduler runs; the tick loop itself stays in the monitor binary.
	prober := probe.New(logger)
	detector := detect.NewDetector(repo, logger)
	dispatcher := notify.NewDispatcher(repo, logger, collector)
	checker := scheduler.New(repo, prober, detector, dispatcher, collector, logger, cfg.Scheduler.TickInterval)

	server := api.NewServer(cfg, repo, cacheClient, checker, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Fatal("API server failed", zap.Error(err))
	}

	logger.Info("API exited")
}

func newLogger(mode string) *zap.Logger {
	if mode == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
