package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/metrics"
	"github.com/sitewarden/sitewarden/internal/store"
)

type Prober interface {
	Probe(ctx context.Context, site *store.Site) *store.Check
}

type Detector interface {
	Detect(ctx context.Context, checkID, siteID string) ([]*store.Anomaly, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, anomaly *store.Anomaly, site *store.Site, settings *store.SiteSettings)
	SiteRecovered(siteID string)
}

// Scheduler drives the probe-persist-detect-dispatch pipeline. A fixed tick
// scans the active sites, filters the ones whose own interval has elapsed,
// and runs every due site concurrently. One site's failure never touches its
// siblings.
type Scheduler struct {
	store      store.SchedulerStore
	prober     Prober
	detector   Detector
	dispatcher Dispatcher
	metrics    *metrics.Collector
	logger     *zap.Logger
	interval   time.Duration
	now        func() time.Time

	dispatchWG sync.WaitGroup
}

func New(st store.SchedulerStore, prober Prober, detector Detector, dispatcher Dispatcher, m *metrics.Collector, logger *zap.Logger, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}
	return &Scheduler{
		store:      st,
		prober:     prober,
		detector:   detector,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		interval:   tickInterval,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled. Stopping only stops scheduling: pipelines
// already started run to completion on their own timeouts, and in-flight
// dispatches are drained before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Starting scheduler", zap.Duration("tick_interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler")
			s.dispatchWG.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan: list active sites, filter the due ones, probe them all
// concurrently, and wait for every pipeline to finish or fail independently.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()

	sites, err := s.store.ListActiveSites(ctx)
	if err != nil {
		s.logger.Error("Failed to list active sites", zap.Error(err))
		return
	}

	due := s.filterDue(sites)
	if len(due) > 0 {
		s.logger.Debug("Scheduling checks",
			zap.Int("active_sites", len(sites)),
			zap.Int("due", len(due)))
	}

	var wg sync.WaitGroup
	for _, site := range due {
		site := site
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Site pipeline panicked",
						zap.String("site_id", site.ID),
						zap.Any("panic", r))
				}
			}()
			if _, err := s.CheckSite(&site.Site); err != nil {
				s.logger.Error("Site pipeline failed",
					zap.String("site_id", site.ID),
					zap.String("url", site.URL),
					zap.Error(err))
			}
		}()
	}
	wg.Wait()

	s.metrics.RecordTick(time.Since(start), len(due))
}

// filterDue keeps the sites whose effective interval has elapsed since their
// last recorded check. Never-checked sites are always due.
func (s *Scheduler) filterDue(sites []*store.ActiveSite) []*store.ActiveSite {
	now := s.now()
	var due []*store.ActiveSite
	for _, site := range sites {
		if site.LastCheckedAt == nil {
			due = append(due, site)
			continue
		}
		interval := time.Duration(site.CheckIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Duration(store.DefaultCheckIntervalSeconds) * time.Second
		}
		if now.Sub(*site.LastCheckedAt) >= interval {
			due = append(due, site)
		}
	}
	return due
}

// CheckSite runs one site's full pipeline immediately and returns the
// persisted check. Probes and store writes deliberately use a background
// context so a scheduler stop never half-persists a cycle.
func (s *Scheduler) CheckSite(site *store.Site) (*store.Check, error) {
	ctx := context.Background()

	check := s.prober.Probe(ctx, site)

	if err := s.store.SaveCheck(ctx, check); err != nil {
		return nil, fmt.Errorf("failed to save check: %w", err)
	}
	s.metrics.RecordCheck(site, check)

	if check.IsUp {
		s.dispatcher.SiteRecovered(site.ID)
	}

	anomalies, err := s.detector.Detect(ctx, check.ID, site.ID)
	if err != nil {
		return check, fmt.Errorf("failed to detect anomalies: %w", err)
	}
	if len(anomalies) == 0 {
		return check, nil
	}

	if err := s.store.SaveAnomalies(ctx, anomalies); err != nil {
		return check, fmt.Errorf("failed to save anomalies: %w", err)
	}
	s.metrics.RecordAnomalies(site, anomalies)

	s.logger.Info("Anomalies detected",
		zap.String("site_id", site.ID),
		zap.String("url", site.URL),
		zap.Int("count", len(anomalies)))

	settings, err := s.store.GetSiteSettings(ctx, site.ID)
	if errors.Is(err, store.ErrNotFound) {
		settings = store.DefaultSettings(site.ID)
	} else if err != nil {
		return check, fmt.Errorf("failed to load site settings: %w", err)
	}

	for _, anomaly := range anomalies {
		if !settings.ShouldNotify(anomaly) {
			continue
		}
		anomaly := anomaly
		s.dispatchWG.Add(1)
		// Fire and forget: delivery must never block or fail the pipeline.
		go func() {
			defer s.dispatchWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Dispatch panicked",
						zap.String("site_id", site.ID),
						zap.Any("panic", r))
				}
			}()
			s.dispatcher.Dispatch(context.Background(), anomaly, site, settings)
		}()
	}

	return check, nil
}
