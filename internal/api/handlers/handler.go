package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/cache"
	"github.com/sitewarden/sitewarden/internal/stats"
	"github.com/sitewarden/sitewarden/internal/store"
)

// Store is the persistence surface of the HTTP layer.
type Store interface {
	store.SiteStore
	store.HistoryStore
	GetAppSetting(ctx context.Context, key string) (string, error)
	SetAppSetting(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
}

// Checker runs one site's probe pipeline on demand.
type Checker interface {
	CheckSite(site *store.Site) (*store.Check, error)
}

type Handler struct {
	repo    Store
	cache   *cache.Client
	checker Checker
	stats   *stats.Calculator
	logger  *zap.Logger
}

func NewHandler(repo Store, cache *cache.Client, checker Checker, stats *stats.Calculator, logger *zap.Logger) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		checker: checker,
		stats:   stats,
		logger:  logger,
	}
}
