package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/detect"
	"github.com/sitewarden/sitewarden/internal/metrics"
	"github.com/sitewarden/sitewarden/internal/notify"
	"github.com/sitewarden/sitewarden/internal/probe"
	"github.com/sitewarden/sitewarden/internal/retention"
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

	collector := metrics.NewCollector(prometheus.NewRegistry(), cfg.RemoteWrite)

	prober := probe.New(logger)
	detector := detect.NewDetector(repo, logger)
	dispatcher := notify.NewDispatcher(repo, logger, collector)

	sched := scheduler.New(repo, prober, detector, dispatcher, collector, logger, cfg.Scheduler.TickInterval)
	purger := retention.NewPurger(repo, logger, cfg.Retention.Days)

	ctx, cancel := context.WithCancel(context.Background())

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()
	go purger.Run(ctx)
	go collector.StartRemoteWrite(ctx, logger)

	logger.Info("Monitor started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down monitor...")
	cancel()

	// The scheduler drains in-flight pipelines and notifications on the way
	// out.
	<-schedDone
	logger.Info("Monitor exited")
}

func newLogger(mode string) *zap.Logger {
	if mode == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
