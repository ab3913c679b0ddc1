package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SiteStore covers site and settings CRUD used by the API layer.
type SiteStore interface {
	CreateSite(ctx context.Context, site *Site) error
	GetSite(ctx context.Context, id string) (*Site, error)
	ListSites(ctx context.Context, limit, offset int) ([]*Site, error)
	CountSites(ctx context.Context) (int, error)
	UpdateSite(ctx context.Context, site *Site) error
	DeleteSite(ctx context.Context, id string) error

	GetSiteSettings(ctx context.Context, siteID string) (*SiteSettings, error)
	UpsertSiteSettings(ctx context.Context, settings *SiteSettings) error
}

// SchedulerStore is what one scheduler tick needs: the active-site scan plus
// the check/anomaly writes performed by the per-site pipeline.
type SchedulerStore interface {
	ListActiveSites(ctx context.Context) ([]*ActiveSite, error)
	SaveCheck(ctx context.Context, check *Check) error
	SaveAnomalies(ctx context.Context, anomalies []*Anomaly) error
	GetSiteSettings(ctx context.Context, siteID string) (*SiteSettings, error)
}

// DetectorStore is the read surface of the anomaly detection engine.
type DetectorStore interface {
	GetCheck(ctx context.Context, id string) (*Check, error)
	ListRecentChecks(ctx context.Context, siteID string, limit int, before time.Time) ([]*Check, error)
	GetSite(ctx context.Context, id string) (*Site, error)
	GetSiteSettings(ctx context.Context, siteID string) (*SiteSettings, error)
}

// DispatcherStore resolves dispatch-time configuration. The webhook URL is
// read per dispatch, never cached.
type DispatcherStore interface {
	GetAppSetting(ctx context.Context, key string) (string, error)
}

// HistoryStore covers the read endpoints of the API layer.
type HistoryStore interface {
	ListRecentChecks(ctx context.Context, siteID string, limit int, before time.Time) ([]*Check, error)
	ListAnomalies(ctx context.Context, siteID string, limit int) ([]*Anomaly, error)
	GetSiteStatus(ctx context.Context, siteID string) (*SiteStatus, error)
}

// StatsStore is the aggregate read surface of the uptime report calculator.
type StatsStore interface {
	GetCheckStats(ctx context.Context, siteID string, since time.Time) (*CheckStats, error)
	CountAnomaliesSince(ctx context.Context, siteID string, since time.Time) (int, error)
}
