package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Repository is the Postgres-backed implementation of every store interface.
type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Site operations

func (r *Repository) CreateSite(ctx context.Context, site *Site) error {
	query := `
        INSERT INTO sites (id, name, url, is_active, created_at, updated_at)
        VALUES (:id, :name, :url, :is_active, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, query, site)
	return err
}

func (r *Repository) GetSite(ctx context.Context, id string) (*Site, error) {
	var site Site
	err := r.db.GetContext(ctx, &site, `SELECT * FROM sites WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (r *Repository) ListSites(ctx context.Context, limit, offset int) ([]*Site, error) {
	sites := []*Site{}
	query := `SELECT * FROM sites ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	err := r.db.SelectContext(ctx, &sites, query, limit, offset)
	return sites, err
}

func (r *Repository) CountSites(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sites`)
	return count, err
}

func (r *Repository) UpdateSite(ctx context.Context, site *Site) error {
	query := `
        UPDATE sites SET
            name = :name,
            url = :url,
            is_active = :is_active,
            updated_at = :updated_at
        WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, site)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteSite(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveSites returns every active site joined with its effective check
// interval and last-check time. Due filtering happens in the scheduler so the
// comparison uses the injected clock, not database time.
func (r *Repository) ListActiveSites(ctx context.Context) ([]*ActiveSite, error) {
	sites := []*ActiveSite{}
	query := `
        SELECT s.id, s.name, s.url, s.is_active, s.created_at, s.updated_at,
               COALESCE(st.check_interval_seconds, $1) AS check_interval_seconds,
               ss.last_checked_at
        FROM sites s
        LEFT JOIN site_settings st ON st.site_id = s.id
        LEFT JOIN site_status ss ON ss.site_id = s.id
        WHERE s.is_active = true`

	err := r.db.SelectContext(ctx, &sites, query, DefaultCheckIntervalSeconds)
	return sites, err
}

// Check operations

// SaveCheck inserts the check and refreshes the site's last-status row in one
// transaction.
func (r *Repository) SaveCheck(ctx context.Context, check *Check) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO checks (
            id, site_id, status_code, response_time_ms, is_up,
            error_message, error_code, headers, body_hash,
            ssl_valid, ssl_expires_at, ssl_issued_at, ssl_issuer, ssl_subject,
            ssl_serial, ssl_fingerprint, redirect_chain, checked_at
        ) VALUES (
            :id, :site_id, :status_code, :response_time_ms, :is_up,
            :error_message, :error_code, :headers, :body_hash,
            :ssl_valid, :ssl_expires_at, :ssl_issued_at, :ssl_issuer, :ssl_subject,
            :ssl_serial, :ssl_fingerprint, :redirect_chain, :checked_at
        )`

	if _, err = tx.NamedExecContext(ctx, query, check); err != nil {
		return err
	}

	message := ""
	if check.ErrorMessage != nil {
		message = *check.ErrorMessage
	}

	statusQuery := `
        INSERT INTO site_status (
            site_id, last_check_id, is_up, status_code, response_time_ms, message, last_checked_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (site_id) DO UPDATE SET
            last_check_id = $2,
            is_up = $3,
            status_code = $4,
            response_time_ms = $5,
            message = $6,
            last_checked_at = $7`

	_, err = tx.ExecContext(ctx, statusQuery,
		check.SiteID,
		check.ID,
		check.IsUp,
		check.StatusCode,
		check.ResponseTimeMs,
		message,
		check.CheckedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) GetCheck(ctx context.Context, id string) (*Check, error) {
	var check Check
	err := r.db.GetContext(ctx, &check, `SELECT * FROM checks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// ListRecentChecks returns up to limit checks for a site strictly older than
// before, newest first. The detector passes the current check's timestamp so
// the rolling window excludes it.
func (r *Repository) ListRecentChecks(ctx context.Context, siteID string, limit int, before time.Time) ([]*Check, error) {
	checks := []*Check{}
	query := `
        SELECT * FROM checks
        WHERE site_id = $1 AND checked_at < $2
        ORDER BY checked_at DESC
        LIMIT $3`

	err := r.db.SelectContext(ctx, &checks, query, siteID, before, limit)
	return checks, err
}

func (r *Repository) GetSiteStatus(ctx context.Context, siteID string) (*SiteStatus, error) {
	var status SiteStatus
	err := r.db.GetContext(ctx, &status, `SELECT * FROM site_status WHERE site_id = $1`, siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Anomaly operations

// SaveAnomalies inserts the batch for one check. A nil or empty batch is a
// no-op; there is deliberately no transactional link to the check insert.
func (r *Repository) SaveAnomalies(ctx context.Context, anomalies []*Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}

	query := `
        INSERT INTO anomalies (id, check_id, site_id, type, severity, description, created_at)
        VALUES (:id, :check_id, :site_id, :type, :severity, :description, :created_at)`

	_, err := r.db.NamedExecContext(ctx, query, anomalies)
	return err
}

func (r *Repository) ListAnomalies(ctx context.Context, siteID string, limit int) ([]*Anomaly, error) {
	anomalies := []*Anomaly{}
	query := `
        SELECT * FROM anomalies
        WHERE site_id = $1
        ORDER BY created_at DESC
        LIMIT $2`

	err := r.db.SelectContext(ctx, &anomalies, query, siteID, limit)
	return anomalies, err
}

// Stats

// GetCheckStats aggregates probe outcomes for one site since the cutoff.
func (r *Repository) GetCheckStats(ctx context.Context, siteID string, since time.Time) (*CheckStats, error) {
	var stats CheckStats
	query := `
        SELECT COUNT(*) AS total_checks,
               COUNT(*) FILTER (WHERE is_up) AS up_checks,
               AVG(response_time_ms) AS avg_response_time_ms,
               MIN(response_time_ms) AS min_response_time_ms,
               MAX(response_time_ms) AS max_response_time_ms
        FROM checks
        WHERE site_id = $1 AND checked_at >= $2`

	err := r.db.GetContext(ctx, &stats, query, siteID, since)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *Repository) CountAnomaliesSince(ctx context.Context, siteID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM anomalies WHERE site_id = $1 AND created_at >= $2`
	err := r.db.GetContext(ctx, &count, query, siteID, since)
	return count, err
}

// Settings operations

func (r *Repository) GetSiteSettings(ctx context.Context, siteID string) (*SiteSettings, error) {
	var settings SiteSettings
	err := r.db.GetContext(ctx, &settings, `SELECT * FROM site_settings WHERE site_id = $1`, siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *Repository) UpsertSiteSettings(ctx context.Context, settings *SiteSettings) error {
	query := `
        INSERT INTO site_settings (
            site_id, response_time_threshold_ms, ssl_expiry_warning_days,
            check_interval_seconds, notify_downtime, notify_slow_response,
            notify_status_code, notify_content_change, notify_ssl_issue,
            notify_header_anomaly, severity_threshold, escalation_threshold_minutes,
            updated_at
        ) VALUES (
            :site_id, :response_time_threshold_ms, :ssl_expiry_warning_days,
            :check_interval_seconds, :notify_downtime, :notify_slow_response,
            :notify_status_code, :notify_content_change, :notify_ssl_issue,
            :notify_header_anomaly, :severity_threshold, :escalation_threshold_minutes,
            :updated_at
        )
        ON CONFLICT (site_id) DO UPDATE SET
            response_time_threshold_ms = EXCLUDED.response_time_threshold_ms,
            ssl_expiry_warning_days = EXCLUDED.ssl_expiry_warning_days,
            check_interval_seconds = EXCLUDED.check_interval_seconds,
            notify_downtime = EXCLUDED.notify_downtime,
            notify_slow_response = EXCLUDED.notify_slow_response,
            notify_status_code = EXCLUDED.notify_status_code,
            notify_content_change = EXCLUDED.notify_content_change,
            notify_ssl_issue = EXCLUDED.notify_ssl_issue,
            notify_header_anomaly = EXCLUDED.notify_header_anomaly,
            severity_threshold = EXCLUDED.severity_threshold,
            escalation_threshold_minutes = EXCLUDED.escalation_threshold_minutes,
            updated_at = EXCLUDED.updated_at`

	_, err := r.db.NamedExecContext(ctx, query, settings)
	return err
}

func (r *Repository) GetAppSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM app_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (r *Repository) SetAppSetting(ctx context.Context, key, value string) error {
	query := `
        INSERT INTO app_settings (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, key, value)
	return err
}

// Retention

func (r *Repository) PurgeChecksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM checks WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) PurgeAnomaliesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM anomalies WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

