package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sitewarden/sitewarden/internal/api/handlers"
	"github.com/sitewarden/sitewarden/internal/api/middleware"
	"github.com/sitewarden/sitewarden/internal/cache"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/metrics"
	"github.com/sitewarden/sitewarden/internal/stats"
	"github.com/sitewarden/sitewarden/internal/store"
)

const (
	requestsPerSecond = 50
	requestBurst      = 100
	shutdownTimeout   = 10 * time.Second
)

type Server struct {
	cfg    *config.Config
	router *gin.Engine
	logger *zap.Logger
}

func NewServer(cfg *config.Config, repo *store.Repository, cacheClient *cache.Client, checker handlers.Checker, collector *metrics.Collector, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	s := &Server{
		cfg:    cfg,
		router: router,
		logger: logger,
	}

	calculator := stats.NewCalculator(repo, logger)
	h := handlers.NewHandler(repo, cacheClient, checker, calculator, logger)
	s.setupRoutes(h, collector)

	return s
}

func (s *Server) setupRoutes(h *handlers.Handler, collector *metrics.Collector) {
	s.router.GET("/health", h.Health)
	s.router.GET("/ready", h.Ready)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	api.Use(middleware.RateLimit(rate.Limit(requestsPerSecond), requestBurst))
	if s.cfg.Server.JWTSecret != "" {
		api.Use(middleware.AuthRequired(s.cfg.Server.JWTSecret))
	} else {
		s.logger.Warn("JWT secret not set, API authentication disabled")
	}

	// Site routes
	{
		api.POST("/sites", h.CreateSite)
		api.GET("/sites", h.ListSites)
		api.GET("/sites/:id", h.GetSite)
		api.PUT("/sites/:id", h.UpdateSite)
		api.DELETE("/sites/:id", h.DeleteSite)
		api.POST("/sites/:id/check", h.TriggerCheck)
		api.GET("/sites/:id/status", h.GetSiteStatus)
		api.GET("/sites/:id/checks", h.ListSiteChecks)
		api.GET("/sites/:id/anomalies", h.ListSiteAnomalies)
		api.GET("/sites/:id/stats", h.GetSiteStats)
		api.GET("/sites/:id/settings", h.GetSiteSettings)
		api.PUT("/sites/:id/settings", h.UpdateSiteSettings)
	}

	// Notification routes
	{
		api.GET("/settings/webhook", h.GetNotificationWebhook)
		api.PUT("/settings/webhook", h.SetNotificationWebhook)
		api.DELETE("/settings/webhook", h.ClearNotificationWebhook)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.cfg.Server.Port,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("API server listening", zap.String("port", s.cfg.Server.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
