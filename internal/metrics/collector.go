package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/store"
)

// Collector owns every Prometheus metric the monitor emits. It registers on
// an injected registry so independent instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry
	config   config.RemoteWriteConfig

	checkDuration     *prometheus.HistogramVec
	checkUp           *prometheus.GaugeVec
	checksTotal       *prometheus.CounterVec
	checkResponseCode *prometheus.GaugeVec

	sslDaysUntilExpiry *prometheus.GaugeVec
	sslCertValid       *prometheus.GaugeVec

	anomaliesTotal *prometheus.CounterVec

	notificationsSent       *prometheus.CounterVec
	notificationsFailed     *prometheus.CounterVec
	notificationsSuppressed *prometheus.CounterVec

	tickDuration prometheus.Histogram
	sitesDue     prometheus.Gauge
}

func NewCollector(registry *prometheus.Registry, cfg config.RemoteWriteConfig) *Collector {
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		config:   cfg,

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewarden_check_duration_seconds",
				Help:    "Duration of site checks in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"site_id", "site_name"},
		),

		checkUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitewarden_check_up",
				Help: "Whether the last check found the site up (1) or down (0)",
			},
			[]string{"site_id", "site_name"},
		),

		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewarden_checks_total",
				Help: "Total number of checks performed",
			},
			[]string{"site_id", "site_name", "result"},
		),

		checkResponseCode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitewarden_http_response_code",
				Help: "HTTP response code of the last check",
			},
			[]string{"site_id", "site_name"},
		),

		sslDaysUntilExpiry: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitewarden_ssl_cert_days_until_expiry",
				Help: "Days until the site's SSL certificate expires",
			},
			[]string{"site_id", "site_name"},
		),

		sslCertValid: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitewarden_ssl_cert_valid",
				Help: "Whether the SSL certificate is valid (1) or not (0)",
			},
			[]string{"site_id", "site_name"},
		),

		anomaliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewarden_anomalies_total",
				Help: "Total number of anomalies detected",
			},
			[]string{"site_id", "site_name", "type", "severity"},
		),

		notificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewarden_notifications_sent_total",
				Help: "Total number of alerts delivered to the webhook",
			},
			[]string{"site_id", "type"},
		),

		notificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewarden_notifications_failed_total",
				Help: "Total number of alert deliveries that failed",
			},
			[]string{"site_id", "type"},
		),

		notificationsSuppressed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewarden_notifications_suppressed_total",
				Help: "Total number of alerts suppressed by the rate limit",
			},
			[]string{"site_id", "type"},
		),

		tickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitewarden_scheduler_tick_duration_seconds",
				Help:    "Duration of one scheduler tick including all site pipelines",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		sitesDue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewarden_scheduler_sites_due",
				Help: "Number of sites due for a check in the last tick",
			},
		),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCheck publishes the outcome of one completed check.
func (c *Collector) RecordCheck(site *store.Site, check *store.Check) {
	labels := prometheus.Labels{"site_id": site.ID, "site_name": site.Name}

	result := "down"
	if check.IsUp {
		result = "up"
	}
	if check.ErrorCode != nil {
		result = "error"
	}
	c.checksTotal.With(prometheus.Labels{
		"site_id": site.ID, "site_name": site.Name, "result": result,
	}).Inc()

	up := 0.0
	if check.IsUp {
		up = 1.0
	}
	c.checkUp.With(labels).Set(up)

	if check.ResponseTimeMs != nil {
		c.checkDuration.With(labels).Observe(float64(*check.ResponseTimeMs) / 1000)
	}
	if check.StatusCode != nil {
		c.checkResponseCode.With(labels).Set(float64(*check.StatusCode))
	}

	if check.SSLExpiresAt != nil {
		days := math.Floor(time.Until(*check.SSLExpiresAt).Hours() / 24)
		c.sslDaysUntilExpiry.With(labels).Set(days)
	}
	if check.SSLValid != nil {
		valid := 0.0
		if *check.SSLValid {
			valid = 1.0
		}
		c.sslCertValid.With(labels).Set(valid)
	}
}

// RecordAnomalies counts freshly detected anomalies by type and severity.
func (c *Collector) RecordAnomalies(site *store.Site, anomalies []*store.Anomaly) {
	for _, a := range anomalies {
		c.anomaliesTotal.With(prometheus.Labels{
			"site_id":   site.ID,
			"site_name": site.Name,
			"type":      string(a.Type),
			"severity":  string(a.Severity),
		}).Inc()
	}
}

func (c *Collector) RecordNotificationSent(siteID string, t store.AnomalyType) {
	c.notificationsSent.With(prometheus.Labels{"site_id": siteID, "type": string(t)}).Inc()
}

func (c *Collector) RecordNotificationFailed(siteID string, t store.AnomalyType) {
	c.notificationsFailed.With(prometheus.Labels{"site_id": siteID, "type": string(t)}).Inc()
}

func (c *Collector) RecordNotificationSuppressed(siteID string, t store.AnomalyType) {
	c.notificationsSuppressed.With(prometheus.Labels{"site_id": siteID, "type": string(t)}).Inc()
}

// RecordTick publishes scheduler loop health.
func (c *Collector) RecordTick(duration time.Duration, due int) {
	c.tickDuration.Observe(duration.Seconds())
	c.sitesDue.Set(float64(due))
}
