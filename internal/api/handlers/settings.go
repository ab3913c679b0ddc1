package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/store"
)

type UpdateSettingsRequest struct {
	ResponseTimeThresholdMs    *int    `json:"response_time_threshold_ms" binding:"omitempty,min=1"`
	SSLExpiryWarningDays       *int    `json:"ssl_expiry_warning_days" binding:"omitempty,min=1,max=365"`
	CheckIntervalSeconds       *int    `json:"check_interval_seconds" binding:"omitempty,min=10,max=86400"`
	NotifyDowntime             *bool   `json:"notify_downtime"`
	NotifySlowResponse         *bool   `json:"notify_slow_response"`
	NotifyStatusCode           *bool   `json:"notify_status_code"`
	NotifyContentChange        *bool   `json:"notify_content_change"`
	NotifySSLIssue             *bool   `json:"notify_ssl_issue"`
	NotifyHeaderAnomaly        *bool   `json:"notify_header_anomaly"`
	SeverityThreshold          *string `json:"severity_threshold" binding:"omitempty,oneof=low medium high critical"`
	EscalationThresholdMinutes *int    `json:"escalation_threshold_minutes" binding:"omitempty,min=1,max=1440"`
}

// GetSiteSettings returns the stored settings, or the defaults when the site
// has never been configured.
func (h *Handler) GetSiteSettings(c *gin.Context) {
	siteID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.repo.GetSite(ctx, siteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
			return
		}
		h.logger.Error("Failed to get site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	settings, err := h.repo.GetSiteSettings(ctx, siteID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, store.DefaultSettings(siteID))
		return
	}
	if err != nil {
		h.logger.Error("Failed to get site settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateSiteSettings merges the request into the current settings. Absent
// fields keep their stored value, so a client can flip one toggle without
// resending the rest.
func (h *Handler) UpdateSiteSettings(c *gin.Context) {
	siteID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.repo.GetSite(ctx, siteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
			return
		}
		h.logger.Error("Failed to get site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.repo.GetSiteSettings(ctx, siteID)
	if errors.Is(err, store.ErrNotFound) {
		settings = store.DefaultSettings(siteID)
	} else if err != nil {
		h.logger.Error("Failed to get site settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if req.ResponseTimeThresholdMs != nil {
		settings.ResponseTimeThresholdMs = req.ResponseTimeThresholdMs
	}
	if req.SSLExpiryWarningDays != nil {
		settings.SSLExpiryWarningDays = *req.SSLExpiryWarningDays
	}
	if req.CheckIntervalSeconds != nil {
		settings.CheckIntervalSeconds = *req.CheckIntervalSeconds
	}
	if req.NotifyDowntime != nil {
		settings.NotifyDowntime = req.NotifyDowntime
	}
	if req.NotifySlowResponse != nil {
		settings.NotifySlowResponse = req.NotifySlowResponse
	}
	if req.NotifyStatusCode != nil {
		settings.NotifyStatusCode = req.NotifyStatusCode
	}
	if req.NotifyContentChange != nil {
		settings.NotifyContentChange = req.NotifyContentChange
	}
	if req.NotifySSLIssue != nil {
		settings.NotifySSLIssue = req.NotifySSLIssue
	}
	if req.NotifyHeaderAnomaly != nil {
		settings.NotifyHeaderAnomaly = req.NotifyHeaderAnomaly
	}
	if req.SeverityThreshold != nil {
		severity, err := store.ParseSeverity(*req.SeverityThreshold)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		settings.SeverityThreshold = severity
	}
	if req.EscalationThresholdMinutes != nil {
		settings.EscalationThresholdMinutes = *req.EscalationThresholdMinutes
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := h.repo.UpsertSiteSettings(ctx, settings); err != nil {
		h.logger.Error("Failed to update site settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, settings)
}
