package retention

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	purgeInterval        = 24 * time.Hour
	defaultRetentionDays = 30
)

// Store deletes history rows older than a cutoff and reports how many went.
type Store interface {
	PurgeChecksBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeAnomaliesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger drops checks and anomalies past the retention window. Sites,
// settings and status snapshots are configuration, not history, and are
// never purged.
type Purger struct {
	store  Store
	logger *zap.Logger
	days   int
	now    func() time.Time
}

func NewPurger(st Store, logger *zap.Logger, days int) *Purger {
	if days <= 0 {
		days = defaultRetentionDays
	}
	return &Purger{
		store:  st,
		logger: logger,
		days:   days,
		now:    time.Now,
	}
}

// Run purges once at startup, then daily until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) {
	p.logger.Info("Starting retention purger", zap.Int("retention_days", p.days))

	p.purge(ctx)

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping retention purger")
			return
		case <-ticker.C:
			p.purge(ctx)
		}
	}
}

func (p *Purger) purge(ctx context.Context) {
	cutoff := p.now().AddDate(0, 0, -p.days)

	anomalies, err := p.store.PurgeAnomaliesBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to purge old anomalies", zap.Error(err))
	}

	checks, err := p.store.PurgeChecksBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to purge old checks", zap.Error(err))
	}

	if anomalies > 0 || checks > 0 {
		p.logger.Info("Purged expired history",
			zap.Time("cutoff", cutoff),
			zap.Int64("anomalies", anomalies),
			zap.Int64("checks", checks),
		)
	}
}
