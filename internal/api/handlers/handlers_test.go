package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/stats"
	"github.com/sitewarden/sitewarden/internal/store"
)

type fakeStore struct {
	sites       map[string]*store.Site
	settings    map[string]*store.SiteSettings
	statuses    map[string]*store.SiteStatus
	checks      map[string][]*store.Check
	anomalies   map[string][]*store.Anomaly
	appSettings map[string]string
	checkStats  *store.CheckStats
	anomalyCnt  int

	err     error
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sites:       map[string]*store.Site{},
		settings:    map[string]*store.SiteSettings{},
		statuses:    map[string]*store.SiteStatus{},
		checks:      map[string][]*store.Check{},
		anomalies:   map[string][]*store.Anomaly{},
		appSettings: map[string]string{},
		checkStats:  &store.CheckStats{},
	}
}

func (s *fakeStore) CreateSite(ctx context.Context, site *store.Site) error {
	if s.err != nil {
		return s.err
	}
	s.sites[site.ID] = site
	return nil
}

func (s *fakeStore) GetSite(ctx context.Context, id string) (*store.Site, error) {
	if s.err != nil {
		return nil, s.err
	}
	site, ok := s.sites[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return site, nil
}

func (s *fakeStore) ListSites(ctx context.Context, limit, offset int) ([]*store.Site, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := []*store.Site{}
	for _, site := range s.sites {
		out = append(out, site)
	}
	return out, nil
}

func (s *fakeStore) CountSites(ctx context.Context) (int, error) {
	return len(s.sites), s.err
}

func (s *fakeStore) UpdateSite(ctx context.Context, site *store.Site) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.sites[site.ID]; !ok {
		return store.ErrNotFound
	}
	s.sites[site.ID] = site
	return nil
}

func (s *fakeStore) DeleteSite(ctx context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.sites[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.sites, id)
	return nil
}

func (s *fakeStore) GetSiteSettings(ctx context.Context, siteID string) (*store.SiteSettings, error) {
	if s.err != nil {
		return nil, s.err
	}
	settings, ok := s.settings[siteID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return settings, nil
}

func (s *fakeStore) UpsertSiteSettings(ctx context.Context, settings *store.SiteSettings) error {
	if s.err != nil {
		return s.err
	}
	s.settings[settings.SiteID] = settings
	return nil
}

func (s *fakeStore) ListRecentChecks(ctx context.Context, siteID string, limit int, before time.Time) ([]*store.Check, error) {
	if s.err != nil {
		return nil, s.err
	}
	checks := s.checks[siteID]
	if len(checks) > limit {
		checks = checks[:limit]
	}
	return checks, nil
}

func (s *fakeStore) ListAnomalies(ctx context.Context, siteID string, limit int) ([]*store.Anomaly, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.anomalies[siteID], nil
}

func (s *fakeStore) GetSiteStatus(ctx context.Context, siteID string) (*store.SiteStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	status, ok := s.statuses[siteID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return status, nil
}

func (s *fakeStore) GetAppSetting(ctx context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	value, ok := s.appSettings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (s *fakeStore) SetAppSetting(ctx context.Context, key, value string) error {
	if s.err != nil {
		return s.err
	}
	s.appSettings[key] = value
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return s.pingErr
}

func (s *fakeStore) GetCheckStats(ctx context.Context, siteID string, since time.Time) (*store.CheckStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.checkStats, nil
}

func (s *fakeStore) CountAnomaliesSince(ctx context.Context, siteID string, since time.Time) (int, error) {
	return s.anomalyCnt, s.err
}

type fakeChecker struct {
	check *store.Check
	err   error
	got   *store.Site
}

func (f *fakeChecker) CheckSite(site *store.Site) (*store.Check, error) {
	f.got = site
	if f.err != nil {
		return nil, f.err
	}
	return f.check, nil
}

type env struct {
	store   *fakeStore
	checker *fakeChecker
	router  *gin.Engine
}

func newEnv() *env {
	gin.SetMode(gin.TestMode)

	st := newFakeStore()
	checker := &fakeChecker{}
	logger := zap.NewNop()
	h := NewHandler(st, nil, checker, stats.NewCalculator(st, logger), logger)

	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.POST("/api/v1/sites", h.CreateSite)
	r.GET("/api/v1/sites", h.ListSites)
	r.GET("/api/v1/sites/:id", h.GetSite)
	r.PUT("/api/v1/sites/:id", h.UpdateSite)
	r.DELETE("/api/v1/sites/:id", h.DeleteSite)
	r.POST("/api/v1/sites/:id/check", h.TriggerCheck)
	r.GET("/api/v1/sites/:id/status", h.GetSiteStatus)
	r.GET("/api/v1/sites/:id/checks", h.ListSiteChecks)
	r.GET("/api/v1/sites/:id/anomalies", h.ListSiteAnomalies)
	r.GET("/api/v1/sites/:id/stats", h.GetSiteStats)
	r.GET("/api/v1/sites/:id/settings", h.GetSiteSettings)
	r.PUT("/api/v1/sites/:id/settings", h.UpdateSiteSettings)
	r.GET("/api/v1/settings/webhook", h.GetNotificationWebhook)
	r.PUT("/api/v1/settings/webhook", h.SetNotificationWebhook)
	r.DELETE("/api/v1/settings/webhook", h.ClearNotificationWebhook)

	return &env{store: st, checker: checker, router: r}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func seedSite(e *env, id string) *store.Site {
	site := &store.Site{
		ID:        id,
		Name:      id,
		URL:       "https://" + id + ".example.com",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	e.store.sites[id] = site
	return site
}

func TestCreateSite(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/api/v1/sites", gin.H{
		"name": "Production",
		"url":  "https://example.com",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var site store.Site
	decode(t, rec, &site)
	assert.NotEmpty(t, site.ID)
	assert.Equal(t, "Production", site.Name)
	assert.Equal(t, "https://example.com", site.URL)
	assert.True(t, site.IsActive)

	assert.Len(t, e.store.sites, 1)
}

func TestCreateSiteInactive(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/api/v1/sites", gin.H{
		"name":      "Staging",
		"url":       "https://staging.example.com",
		"is_active": false,
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var site store.Site
	decode(t, rec, &site)
	assert.False(t, site.IsActive)
}

func TestCreateSiteValidation(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"url": "https://example.com"}},
		{"missing url", gin.H{"name": "x"}},
		{"not a url", gin.H{"name": "x", "url": "not a url"}},
		{"ftp scheme", gin.H{"name": "x", "url": "ftp://example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			rec := e.do(t, http.MethodPost, "/api/v1/sites", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, e.store.sites)
		})
	}
}

func TestGetSite(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var site store.Site
	decode(t, rec, &site)
	assert.Equal(t, "site-1", site.ID)
}

func TestGetSiteNotFound(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/api/v1/sites/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSites(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")
	seedSite(e, "site-2")

	rec := e.do(t, http.MethodGet, "/api/v1/sites", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sites      []*store.Site  `json:"sites"`
		Pagination map[string]int `json:"pagination"`
	}
	decode(t, rec, &resp)
	assert.Len(t, resp.Sites, 2)
	assert.Equal(t, 2, resp.Pagination["total"])
	assert.Equal(t, 1, resp.Pagination["page"])
}

func TestUpdateSitePartial(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")

	rec := e.do(t, http.MethodPut, "/api/v1/sites/site-1", gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code)

	var site store.Site
	decode(t, rec, &site)
	assert.False(t, site.IsActive)
	assert.Equal(t, "site-1", site.Name)
	assert.Equal(t, "https://site-1.example.com", site.URL)
}

func TestUpdateSiteBadURL(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")

	rec := e.do(t, http.MethodPut, "/api/v1/sites/site-1", gin.H{"url": "ftp://example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSiteNotFound(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPut, "/api/v1/sites/missing", gin.H{"is_active": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSite(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")

	rec := e.do(t, http.MethodDelete, "/api/v1/sites/site-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, e.store.sites)

	rec = e.do(t, http.MethodDelete, "/api/v1/sites/site-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerCheck(t *testing.T) {
	e := newEnv()
	site := seedSite(e, "site-1")
	code := 200
	e.checker.check = &store.Check{ID: "check-1", SiteID: "site-1", StatusCode: &code, IsUp: true}

	rec := e.do(t, http.MethodPost, "/api/v1/sites/site-1/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var check store.Check
	decode(t, rec, &check)
	assert.Equal(t, "check-1", check.ID)
	assert.True(t, check.IsUp)
	assert.Equal(t, site.ID, e.checker.got.ID)
}

func TestTriggerCheckNotFound(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/api/v1/sites/missing/check", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, e.checker.got)
}

func TestTriggerCheckFailure(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")
	e.checker.err = errors.New("save failed")

	rec := e.do(t, http.MethodPost, "/api/v1/sites/site-1/check", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetSiteStatus(t *testing.T) {
	e := newEnv()
	code := 200
	e.store.statuses["site-1"] = &store.SiteStatus{
		SiteID:        "site-1",
		LastCheckID:   "check-9",
		IsUp:          true,
		StatusCode:    &code,
		LastCheckedAt: time.Now().UTC(),
	}

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status store.SiteStatus
	decode(t, rec, &status)
	assert.True(t, status.IsUp)
	assert.Equal(t, "check-9", status.LastCheckID)
}

func TestGetSiteStatusNotFound(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSiteChecks(t *testing.T) {
	e := newEnv()
	e.store.checks["site-1"] = []*store.Check{
		{ID: "c1", SiteID: "site-1"},
		{ID: "c2", SiteID: "site-1"},
	}

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1/checks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Checks []*store.Check `json:"checks"`
		Count  int            `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Checks, 2)
}

func TestListSiteChecksBadBefore(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1/checks?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSiteAnomalies(t *testing.T) {
	e := newEnv()
	e.store.anomalies["site-1"] = []*store.Anomaly{
		{ID: "a1", SiteID: "site-1", Type: store.AnomalyDowntime, Severity: store.SeverityCritical},
	}

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1/anomalies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Anomalies []*store.Anomaly `json:"anomalies"`
		Count     int              `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, store.AnomalyDowntime, resp.Anomalies[0].Type)
}

func TestGetSiteSettingsDefaults(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings store.SiteSettings
	decode(t, rec, &settings)
	assert.Equal(t, store.DefaultSeverityThreshold, settings.SeverityThreshold)
	assert.Equal(t, store.DefaultCheckIntervalSeconds, settings.CheckIntervalSeconds)
}

func TestGetSiteSettingsNotFoundSite(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/api/v1/sites/missing/settings", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSiteSettingsMerges(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")
	threshold := 500
	existing := store.DefaultSettings("site-1")
	existing.ResponseTimeThresholdMs = &threshold
	e.store.settings["site-1"] = existing

	rec := e.do(t, http.MethodPut, "/api/v1/sites/site-1/settings", gin.H{
		"notify_content_change": false,
		"severity_threshold":    "high",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var settings store.SiteSettings
	decode(t, rec, &settings)
	require.NotNil(t, settings.ResponseTimeThresholdMs)
	assert.Equal(t, 500, *settings.ResponseTimeThresholdMs)
	require.NotNil(t, settings.NotifyContentChange)
	assert.False(t, *settings.NotifyContentChange)
	assert.Equal(t, store.SeverityHigh, settings.SeverityThreshold)

	saved := e.store.settings["site-1"]
	assert.Equal(t, store.SeverityHigh, saved.SeverityThreshold)
}

func TestUpdateSiteSettingsInvalidSeverity(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")

	rec := e.do(t, http.MethodPut, "/api/v1/sites/site-1/settings", gin.H{
		"severity_threshold": "catastrophic",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSiteSettingsInvalidInterval(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")

	rec := e.do(t, http.MethodPut, "/api/v1/sites/site-1/settings", gin.H{
		"check_interval_seconds": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRoundTrip(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/api/v1/settings/webhook", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Empty(t, resp["url"])

	rec = e.do(t, http.MethodPut, "/api/v1/settings/webhook", gin.H{"url": "https://hooks.example.com/alerts"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/settings/webhook", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, "https://hooks.example.com/alerts", resp["url"])

	rec = e.do(t, http.MethodDelete, "/api/v1/settings/webhook", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, e.store.appSettings[store.SettingNotificationWebhookURL])
}

func TestSetWebhookInvalidURL(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPut, "/api/v1/settings/webhook", gin.H{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSiteStats(t *testing.T) {
	e := newEnv()
	seedSite(e, "site-1")
	avg := 120.0
	e.store.checkStats = &store.CheckStats{
		TotalChecks:       100,
		UpChecks:          97,
		AvgResponseTimeMs: &avg,
	}
	e.store.anomalyCnt = 3

	rec := e.do(t, http.MethodGet, "/api/v1/sites/site-1/stats?range=7d", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report stats.Report
	decode(t, rec, &report)
	assert.Equal(t, 100, report.TotalChecks)
	assert.Equal(t, 3, report.FailedChecks)
	assert.Equal(t, 97.0, report.UptimePercentage)
	assert.Equal(t, 3, report.AnomalyCount)
	assert.Equal(t, 7*24*time.Hour, report.PeriodEnd.Sub(report.PeriodStart))
}

func TestGetSiteStatsNotFound(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/api/v1/sites/missing/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	e.store.pingErr = errors.New("connection refused")
	rec = e.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
