package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type AnomalyType string

const (
	AnomalyDowntime      AnomalyType = "downtime"
	AnomalySlowResponse  AnomalyType = "slow_response"
	AnomalyStatusCode    AnomalyType = "status_code"
	AnomalyContentChange AnomalyType = "content_change"
	AnomalySSLIssue      AnomalyType = "ssl_issue"
	AnomalyHeaderAnomaly AnomalyType = "header_anomaly"
)

// AnomalyTypes lists every type the detector can emit.
var AnomalyTypes = []AnomalyType{
	AnomalyDowntime,
	AnomalySlowResponse,
	AnomalyStatusCode,
	AnomalyContentChange,
	AnomalySSLIssue,
	AnomalyHeaderAnomaly,
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank maps a severity onto the total order low < medium < high < critical.
// Unknown values rank below low so a corrupted row never passes a floor check.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s clears the given severity floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() >= floor.Rank()
}

func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if s.Rank() < 0 {
		return "", fmt.Errorf("invalid severity %q", v)
	}
	return s, nil
}

type Site struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	URL       string    `json:"url" db:"url"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ActiveSite is the scheduler's view of a site: the site row joined with its
// effective check interval and the time of its last recorded check.
type ActiveSite struct {
	Site
	CheckIntervalSeconds int        `json:"check_interval_seconds" db:"check_interval_seconds"`
	LastCheckedAt        *time.Time `json:"last_checked_at" db:"last_checked_at"`
}

// RedirectHop is one followed redirect: the URL that answered with a redirect
// status and the status it answered with.
type RedirectHop struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
}

type RedirectChain []RedirectHop

func (rc RedirectChain) Value() (driver.Value, error) {
	if rc == nil {
		rc = RedirectChain{}
	}
	return json.Marshal(rc)
}

func (rc *RedirectChain) Scan(value interface{}) error {
	if value == nil {
		*rc = RedirectChain{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("redirect chain: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, rc)
}

// HeaderMap is a normalized response-header snapshot: lower-cased names,
// multi-valued headers joined with ", ". Stored as JSONB.
type HeaderMap map[string]string

func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}

func (h *HeaderMap) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("header map: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, h)
}

// Check is one recorded probe outcome. Immutable once created: the prober
// fills it, the scheduler assigns IDs and persists it, everything else reads.
type Check struct {
	ID             string        `json:"id" db:"id"`
	SiteID         string        `json:"site_id" db:"site_id"`
	StatusCode     *int          `json:"status_code,omitempty" db:"status_code"`
	ResponseTimeMs *int          `json:"response_time_ms,omitempty" db:"response_time_ms"`
	IsUp           bool          `json:"is_up" db:"is_up"`
	ErrorMessage   *string       `json:"error_message,omitempty" db:"error_message"`
	ErrorCode      *string       `json:"error_code,omitempty" db:"error_code"`
	Headers        HeaderMap     `json:"headers,omitempty" db:"headers"`
	BodyHash       *string       `json:"body_hash,omitempty" db:"body_hash"`
	SSLValid       *bool         `json:"ssl_valid,omitempty" db:"ssl_valid"`
	SSLExpiresAt   *time.Time    `json:"ssl_expires_at,omitempty" db:"ssl_expires_at"`
	SSLIssuedAt    *time.Time    `json:"ssl_issued_at,omitempty" db:"ssl_issued_at"`
	SSLIssuer      *string       `json:"ssl_issuer,omitempty" db:"ssl_issuer"`
	SSLSubject     *string       `json:"ssl_subject,omitempty" db:"ssl_subject"`
	SSLSerial      *string       `json:"ssl_serial,omitempty" db:"ssl_serial"`
	SSLFingerprint *string       `json:"ssl_fingerprint,omitempty" db:"ssl_fingerprint"`
	RedirectChain  RedirectChain `json:"redirect_chain" db:"redirect_chain"`
	CheckedAt      time.Time     `json:"checked_at" db:"checked_at"`
}

// Anomaly is a typed, severity-ranked deviation detected from one check.
type Anomaly struct {
	ID          string      `json:"id" db:"id"`
	CheckID     string      `json:"check_id" db:"check_id"`
	SiteID      string      `json:"site_id" db:"site_id"`
	Type        AnomalyType `json:"type" db:"type"`
	Severity    Severity    `json:"severity" db:"severity"`
	Description string      `json:"description" db:"description"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// CheckStats is one site's aggregated probe outcome over a time window.
// Response time aggregates are nil when no check in the window carried one.
type CheckStats struct {
	TotalChecks       int      `db:"total_checks"`
	UpChecks          int      `db:"up_checks"`
	AvgResponseTimeMs *float64 `db:"avg_response_time_ms"`
	MinResponseTimeMs *int     `db:"min_response_time_ms"`
	MaxResponseTimeMs *int     `db:"max_response_time_ms"`
}

// SiteStatus mirrors the most recent check per site; upserted in the same
// transaction as the check insert and joined by the scheduler's due query.
type SiteStatus struct {
	SiteID         string    `json:"site_id" db:"site_id"`
	LastCheckID    string    `json:"last_check_id" db:"last_check_id"`
	IsUp           bool      `json:"is_up" db:"is_up"`
	StatusCode     *int      `json:"status_code,omitempty" db:"status_code"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty" db:"response_time_ms"`
	Message        string    `json:"message" db:"message"`
	LastCheckedAt  time.Time `json:"last_checked_at" db:"last_checked_at"`
}

const (
	DefaultSSLExpiryWarningDays      = 7
	DefaultCheckIntervalSeconds      = 60
	DefaultSeverityThreshold         = SeverityLow
	DefaultEscalationThresholdMinute = 5
)

// SiteSettings holds per-site detection and notification overrides. A missing
// row means every default applies; nil pointers mean "not overridden".
type SiteSettings struct {
	SiteID                     string    `json:"site_id" db:"site_id"`
	ResponseTimeThresholdMs    *int      `json:"response_time_threshold_ms,omitempty" db:"response_time_threshold_ms"`
	SSLExpiryWarningDays       int       `json:"ssl_expiry_warning_days" db:"ssl_expiry_warning_days"`
	CheckIntervalSeconds       int       `json:"check_interval_seconds" db:"check_interval_seconds"`
	NotifyDowntime             *bool     `json:"notify_downtime,omitempty" db:"notify_downtime"`
	NotifySlowResponse         *bool     `json:"notify_slow_response,omitempty" db:"notify_slow_response"`
	NotifyStatusCode           *bool     `json:"notify_status_code,omitempty" db:"notify_status_code"`
	NotifyContentChange        *bool     `json:"notify_content_change,omitempty" db:"notify_content_change"`
	NotifySSLIssue             *bool     `json:"notify_ssl_issue,omitempty" db:"notify_ssl_issue"`
	NotifyHeaderAnomaly        *bool     `json:"notify_header_anomaly,omitempty" db:"notify_header_anomaly"`
	SeverityThreshold          Severity  `json:"severity_threshold" db:"severity_threshold"`
	EscalationThresholdMinutes int       `json:"escalation_threshold_minutes" db:"escalation_threshold_minutes"`
	UpdatedAt                  time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultSettings returns the settings applied when a site has no row.
func DefaultSettings(siteID string) *SiteSettings {
	return &SiteSettings{
		SiteID:                     siteID,
		SSLExpiryWarningDays:       DefaultSSLExpiryWarningDays,
		CheckIntervalSeconds:       DefaultCheckIntervalSeconds,
		SeverityThreshold:          DefaultSeverityThreshold,
		EscalationThresholdMinutes: DefaultEscalationThresholdMinute,
	}
}

// NotifyEnabled reports whether notifications for the given anomaly type are
// enabled. Only an explicit false disables a type; nil means enabled. The
// switch is exhaustive over the six types so adding a type breaks compilation
// here rather than silently defaulting.
func (s *SiteSettings) NotifyEnabled(t AnomalyType) bool {
	var toggle *bool
	switch t {
	case AnomalyDowntime:
		toggle = s.NotifyDowntime
	case AnomalySlowResponse:
		toggle = s.NotifySlowResponse
	case AnomalyStatusCode:
		toggle = s.NotifyStatusCode
	case AnomalyContentChange:
		toggle = s.NotifyContentChange
	case AnomalySSLIssue:
		toggle = s.NotifySSLIssue
	case AnomalyHeaderAnomaly:
		toggle = s.NotifyHeaderAnomaly
	default:
		return false
	}
	return toggle == nil || *toggle
}

// ShouldNotify applies the per-type toggle and the severity floor to one
// anomaly. The floor compares by rank, never by string equality.
func (s *SiteSettings) ShouldNotify(a *Anomaly) bool {
	if !s.NotifyEnabled(a.Type) {
		return false
	}
	floor := s.SeverityThreshold
	if floor.Rank() < 0 {
		floor = DefaultSeverityThreshold
	}
	return a.Severity.AtLeast(floor)
}

// AppSetting is one row of the string-keyed settings table (webhook URL etc.).
type AppSetting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SettingNotificationWebhookURL is where outbound alerts are POSTed.
const SettingNotificationWebhookURL = "notification_webhook_url"
