package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/store"
)

// Report summarizes one site's availability over a window.
type Report struct {
	SiteID            string    `json:"site_id"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	TotalChecks       int       `json:"total_checks"`
	UpChecks          int       `json:"up_checks"`
	FailedChecks      int       `json:"failed_checks"`
	UptimePercentage  float64   `json:"uptime_percentage"`
	AvgResponseTimeMs *int      `json:"avg_response_time_ms,omitempty"`
	MinResponseTimeMs *int      `json:"min_response_time_ms,omitempty"`
	MaxResponseTimeMs *int      `json:"max_response_time_ms,omitempty"`
	AnomalyCount      int       `json:"anomaly_count"`
}

type Calculator struct {
	store  store.StatsStore
	logger *zap.Logger
	now    func() time.Time
}

func NewCalculator(st store.StatsStore, logger *zap.Logger) *Calculator {
	return &Calculator{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Report aggregates checks and anomalies recorded in the last period. A site
// with no checks in the window yields an all-zero report, not an error.
func (c *Calculator) Report(ctx context.Context, siteID string, period time.Duration) (*Report, error) {
	end := c.now()
	start := end.Add(-period)

	stats, err := c.store.GetCheckStats(ctx, siteID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate checks: %w", err)
	}

	anomalyCount, err := c.store.CountAnomaliesSince(ctx, siteID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies: %w", err)
	}

	report := &Report{
		SiteID:       siteID,
		PeriodStart:  start,
		PeriodEnd:    end,
		TotalChecks:  stats.TotalChecks,
		UpChecks:     stats.UpChecks,
		FailedChecks: stats.TotalChecks - stats.UpChecks,
		AnomalyCount: anomalyCount,
	}

	if stats.TotalChecks > 0 {
		report.UptimePercentage = roundPercent(float64(stats.UpChecks) / float64(stats.TotalChecks) * 100)
	}
	if stats.AvgResponseTimeMs != nil {
		avg := int(math.Round(*stats.AvgResponseTimeMs))
		report.AvgResponseTimeMs = &avg
	}
	report.MinResponseTimeMs = stats.MinResponseTimeMs
	report.MaxResponseTimeMs = stats.MaxResponseTimeMs

	return report, nil
}

// roundPercent keeps two decimal places so 2999/3000 reports as 99.97, not a
// float artifact.
func roundPercent(v float64) float64 {
	return math.Round(v*100) / 100
}
