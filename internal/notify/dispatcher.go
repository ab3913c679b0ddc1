package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/metrics"
	"github.com/sitewarden/sitewarden/internal/store"
)

// rateLimitWindow is the per-(site, type) cooldown between outbound alerts,
// independent of severity.
const rateLimitWindow = 5 * time.Minute

type rateKey struct {
	siteID      string
	anomalyType store.AnomalyType
}

// Dispatcher sends rate-limited, escalation-aware alerts for detected
// anomalies. Rate-limit and downtime markers live in memory only; a restart
// resets both and escalation starts over.
type Dispatcher struct {
	store   store.DispatcherStore
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu            sync.Mutex
	lastAttempt   map[rateKey]time.Time
	downtimeStart map[string]time.Time
}

func NewDispatcher(st store.DispatcherStore, logger *zap.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		store:         st,
		client:        &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
		metrics:       m,
		now:           time.Now,
		lastAttempt:   make(map[rateKey]time.Time),
		downtimeStart: make(map[string]time.Time),
	}
}

type webhookPayload struct {
	SiteID      string            `json:"site_id"`
	SiteName    string            `json:"site_name"`
	SiteURL     string            `json:"site_url"`
	AnomalyType store.AnomalyType `json:"anomaly_type"`
	Severity    store.Severity    `json:"severity"`
	Description string            `json:"description"`
	Escalated   bool              `json:"escalated"`
	DetectedAt  time.Time         `json:"detected_at"`
}

// Dispatch best-effort delivers one anomaly alert. It never returns an error:
// rate-limit suppression is silent, delivery failures are logged and
// swallowed, and the detection pipeline is unaffected either way.
func (d *Dispatcher) Dispatch(ctx context.Context, anomaly *store.Anomaly, site *store.Site, settings *store.SiteSettings) {
	escalated := false
	if anomaly.Type == store.AnomalyDowntime {
		escalated = d.trackDowntime(site.ID, settings.EscalationThresholdMinutes)
	}

	if !d.allow(site.ID, anomaly.Type) {
		d.metrics.RecordNotificationSuppressed(site.ID, anomaly.Type)
		d.logger.Debug("Notification suppressed by rate limit",
			zap.String("site_id", site.ID),
			zap.String("type", string(anomaly.Type)))
		return
	}

	d.send(ctx, anomaly, site, escalated)
}

// allow refreshes the last-attempt marker for the key and reports whether the
// previous attempt is outside the cooldown. Every attempt moves the marker,
// so a steady stream of anomalies inside the window stays suppressed.
func (d *Dispatcher) allow(siteID string, t store.AnomalyType) bool {
	key := rateKey{siteID: siteID, anomalyType: t}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	last, seen := d.lastAttempt[key]
	d.lastAttempt[key] = now
	return !seen || now.Sub(last) >= rateLimitWindow
}

// trackDowntime records the start of a downtime streak and reports whether
// the streak has lasted past the site's escalation threshold.
func (d *Dispatcher) trackDowntime(siteID string, thresholdMinutes int) bool {
	if thresholdMinutes <= 0 {
		thresholdMinutes = store.DefaultEscalationThresholdMinute
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	started, ok := d.downtimeStart[siteID]
	if !ok {
		d.downtimeStart[siteID] = now
		return false
	}
	return now.Sub(started) >= time.Duration(thresholdMinutes)*time.Minute
}

// SiteRecovered clears the site's downtime marker. The scheduler calls this
// on every up check so the next outage escalates from zero.
func (d *Dispatcher) SiteRecovered(siteID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.downtimeStart, siteID)
}

func (d *Dispatcher) send(ctx context.Context, anomaly *store.Anomaly, site *store.Site, escalated bool) {
	// The webhook URL is read per dispatch so operators can change it without
	// a restart. No configured URL means alerting is off.
	webhookURL, err := d.store.GetAppSetting(ctx, store.SettingNotificationWebhookURL)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		d.logger.Error("Failed to read webhook setting", zap.Error(err))
		return
	}
	if webhookURL == "" {
		return
	}

	payload := webhookPayload{
		SiteID:      site.ID,
		SiteName:    site.Name,
		SiteURL:     site.URL,
		AnomalyType: anomaly.Type,
		Severity:    anomaly.Severity,
		Description: anomaly.Description,
		Escalated:   escalated,
		DetectedAt:  anomaly.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("Failed to encode alert payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("Failed to build alert request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.RecordNotificationFailed(site.ID, anomaly.Type)
		d.logger.Error("Failed to deliver alert",
			zap.String("site_id", site.ID),
			zap.String("type", string(anomaly.Type)),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.metrics.RecordNotificationFailed(site.ID, anomaly.Type)
		d.logger.Error("Alert delivery rejected",
			zap.String("site_id", site.ID),
			zap.String("type", string(anomaly.Type)),
			zap.Int("status", resp.StatusCode))
		return
	}

	d.metrics.RecordNotificationSent(site.ID, anomaly.Type)
	d.logger.Info("Alert delivered",
		zap.String("site_id", site.ID),
		zap.String("type", string(anomaly.Type)),
		zap.String("severity", string(anomaly.Severity)),
		zap.Bool("escalated", escalated))
}
