package detect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/store"
)

// windowSize is how many prior checks form the rolling baseline.
const windowSize = 10

// securityHeaders are the response headers whose removal or change is
// flagged. Names are in snapshot form (lower-cased).
var securityHeaders = []string{
	"strict-transport-security",
	"content-security-policy",
	"x-content-type-options",
	"x-frame-options",
	"x-xss-protection",
	"referrer-policy",
	"permissions-policy",
}

// Detector classifies a fresh check against rolling history and per-site
// overrides into zero or more typed anomalies. It persists nothing.
type Detector struct {
	store  store.DetectorStore
	logger *zap.Logger
	now    func() time.Time
}

func NewDetector(st store.DetectorStore, logger *zap.Logger) *Detector {
	return &Detector{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Detect loads the check, its site, the site's settings, and the rolling
// window of prior checks, then evaluates every rule. Each rule is
// independent; one check can yield several anomalies.
func (d *Detector) Detect(ctx context.Context, checkID, siteID string) ([]*store.Anomaly, error) {
	check, err := d.store.GetCheck(ctx, checkID)
	if err != nil {
		return nil, fmt.Errorf("failed to load check %s: %w", checkID, err)
	}

	site, err := d.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load site %s: %w", siteID, err)
	}

	settings, err := d.store.GetSiteSettings(ctx, siteID)
	if errors.Is(err, store.ErrNotFound) {
		settings = store.DefaultSettings(siteID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load settings for site %s: %w", siteID, err)
	}

	history, err := d.store.ListRecentChecks(ctx, siteID, windowSize, check.CheckedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for site %s: %w", siteID, err)
	}

	var anomalies []*store.Anomaly
	if a := d.checkDowntime(check); a != nil {
		anomalies = append(anomalies, a)
	}
	if a := d.checkSlowResponse(check, history, settings); a != nil {
		anomalies = append(anomalies, a)
	}
	if a := d.checkStatusCode(check); a != nil {
		anomalies = append(anomalies, a)
	}
	if a := d.checkContentChange(check, history); a != nil {
		anomalies = append(anomalies, a)
	}
	anomalies = append(anomalies, d.checkSSL(check, site, settings)...)
	anomalies = append(anomalies, d.checkHeaders(check, history)...)

	if len(anomalies) > 0 {
		d.logger.Debug("Anomalies found",
			zap.String("site_id", siteID),
			zap.String("check_id", checkID),
			zap.Int("count", len(anomalies)))
	}

	return anomalies, nil
}

func (d *Detector) newAnomaly(check *store.Check, t store.AnomalyType, severity store.Severity, description string) *store.Anomaly {
	return &store.Anomaly{
		ID:          uuid.New().String(),
		CheckID:     check.ID,
		SiteID:      check.SiteID,
		Type:        t,
		Severity:    severity,
		Description: description,
		CreatedAt:   d.now(),
	}
}

// checkDowntime flags 5xx responses and checks with no response at all.
// Anything with a status below 500 is up as far as this rule is concerned.
func (d *Detector) checkDowntime(check *store.Check) *store.Anomaly {
	if check.StatusCode == nil {
		desc := "site unreachable"
		if check.ErrorMessage != nil && *check.ErrorMessage != "" {
			desc = fmt.Sprintf("site unreachable: %s", *check.ErrorMessage)
		}
		return d.newAnomaly(check, store.AnomalyDowntime, store.SeverityCritical, desc)
	}
	if *check.StatusCode >= 500 {
		desc := fmt.Sprintf("site returned status %d", *check.StatusCode)
		return d.newAnomaly(check, store.AnomalyDowntime, store.SeverityCritical, desc)
	}
	return nil
}

// checkSlowResponse compares the current response time against either the
// per-site absolute threshold or, when none is set, twice the rolling mean.
// The override always wins; the two methods never combine.
func (d *Detector) checkSlowResponse(check *store.Check, history []*store.Check, settings *store.SiteSettings) *store.Anomaly {
	if check.ResponseTimeMs == nil {
		return nil
	}
	current := float64(*check.ResponseTimeMs)

	if settings.ResponseTimeThresholdMs != nil {
		threshold := float64(*settings.ResponseTimeThresholdMs)
		if current <= threshold {
			return nil
		}
		severity := store.SeverityMedium
		if current > 2*threshold {
			severity = store.SeverityHigh
		}
		desc := fmt.Sprintf("response time %dms exceeded configured threshold %dms",
			*check.ResponseTimeMs, *settings.ResponseTimeThresholdMs)
		return d.newAnomaly(check, store.AnomalySlowResponse, severity, desc)
	}

	var sum, n float64
	for _, prior := range history {
		if prior.ResponseTimeMs != nil {
			sum += float64(*prior.ResponseTimeMs)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / n
	if current <= 2*mean {
		return nil
	}
	severity := store.SeverityMedium
	if current > 4*mean {
		severity = store.SeverityHigh
	}
	desc := fmt.Sprintf("response time %dms is %.1fx the recent average of %.0fms",
		*check.ResponseTimeMs, current/mean, mean)
	return d.newAnomaly(check, store.AnomalySlowResponse, severity, desc)
}

// checkStatusCode flags 3xx and 4xx finals. 5xx is the downtime rule's job.
func (d *Detector) checkStatusCode(check *store.Check) *store.Anomaly {
	if check.StatusCode == nil {
		return nil
	}
	code := *check.StatusCode
	desc := fmt.Sprintf("unexpected status code %d", code)

	switch {
	case code == 401 || code == 403:
		return d.newAnomaly(check, store.AnomalyStatusCode, store.SeverityHigh, desc)
	case code >= 400 && code < 500:
		return d.newAnomaly(check, store.AnomalyStatusCode, store.SeverityMedium, desc)
	case code >= 300 && code < 400:
		return d.newAnomaly(check, store.AnomalyStatusCode, store.SeverityLow, desc)
	}
	return nil
}

// checkContentChange compares the current body hash against the most recent
// prior check that has one. The lookback is not bounded beyond the window:
// across a gap of hashless (failed) checks the comparison may reach a hash
// recorded well before the gap.
func (d *Detector) checkContentChange(check *store.Check, history []*store.Check) *store.Anomaly {
	if check.BodyHash == nil || len(history) == 0 {
		return nil
	}
	for _, prior := range history {
		if prior.BodyHash == nil {
			continue
		}
		if *prior.BodyHash != *check.BodyHash {
			desc := fmt.Sprintf("content hash changed from %.12s to %.12s", *prior.BodyHash, *check.BodyHash)
			return d.newAnomaly(check, store.AnomalyContentChange, store.SeverityLow, desc)
		}
		return nil
	}
	return nil
}

// checkSSL evaluates certificate validity and expiry for https sites. The two
// conditions are independent: an invalid certificate that is also about to
// expire yields two records.
func (d *Detector) checkSSL(check *store.Check, site *store.Site, settings *store.SiteSettings) []*store.Anomaly {
	u, err := url.Parse(site.URL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	var anomalies []*store.Anomaly

	if check.SSLValid != nil && !*check.SSLValid {
		anomalies = append(anomalies,
			d.newAnomaly(check, store.AnomalySSLIssue, store.SeverityCritical, "ssl certificate is invalid"))
	}

	if check.SSLExpiresAt != nil {
		days := int(math.Floor(check.SSLExpiresAt.Sub(d.now()).Hours() / 24))
		warningDays := settings.SSLExpiryWarningDays
		if warningDays <= 0 {
			warningDays = store.DefaultSSLExpiryWarningDays
		}

		switch {
		case days < 0:
			desc := fmt.Sprintf("ssl certificate expired %d days ago", -days)
			anomalies = append(anomalies,
				d.newAnomaly(check, store.AnomalySSLIssue, store.SeverityCritical, desc))
		case days == 0:
			anomalies = append(anomalies,
				d.newAnomaly(check, store.AnomalySSLIssue, store.SeverityCritical, "ssl certificate expires today"))
		case days <= warningDays:
			desc := fmt.Sprintf("ssl certificate expires in %d days", days)
			anomalies = append(anomalies,
				d.newAnomaly(check, store.AnomalySSLIssue, store.SeverityHigh, desc))
		}
	}

	return anomalies
}

// checkHeaders diffs the security-relevant headers against the most recent
// prior snapshot. Removals and value changes are reported as at most one
// record each, listing every affected header.
func (d *Detector) checkHeaders(check *store.Check, history []*store.Check) []*store.Anomaly {
	if check.Headers == nil || len(history) == 0 {
		return nil
	}

	var prior store.HeaderMap
	for _, h := range history {
		if h.Headers != nil {
			prior = h.Headers
			break
		}
	}
	if prior == nil {
		return nil
	}

	var removed, changed []string
	for _, name := range securityHeaders {
		prevVal, hadBefore := prior[name]
		curVal, hasNow := check.Headers[name]
		switch {
		case hadBefore && !hasNow:
			removed = append(removed, name)
		case hadBefore && hasNow && prevVal != curVal:
			changed = append(changed, name)
		}
	}

	var anomalies []*store.Anomaly
	if len(removed) > 0 {
		desc := fmt.Sprintf("security headers removed: %s", strings.Join(removed, ", "))
		anomalies = append(anomalies,
			d.newAnomaly(check, store.AnomalyHeaderAnomaly, store.SeverityHigh, desc))
	}
	if len(changed) > 0 {
		desc := fmt.Sprintf("security headers changed: %s", strings.Join(changed, ", "))
		anomalies = append(anomalies,
			d.newAnomaly(check, store.AnomalyHeaderAnomaly, store.SeverityMedium, desc))
	}
	return anomalies
}
