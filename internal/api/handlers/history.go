package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/cache"
	"github.com/sitewarden/sitewarden/internal/store"
)

// GetSiteStatus serves the latest status snapshot, read through the cache
// when one is configured. Cache failures fall back to the database.
func (h *Handler) GetSiteStatus(c *gin.Context) {
	siteID := c.Param("id")
	ctx := c.Request.Context()

	if status, err := h.cache.GetSiteStatus(ctx, siteID); err == nil {
		c.JSON(http.StatusOK, status)
		return
	} else if !errors.Is(err, cache.ErrMiss) {
		h.logger.Debug("Status cache read failed", zap.Error(err))
	}

	status, err := h.repo.GetSiteStatus(ctx, siteID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No status available yet"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get site status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := h.cache.CacheSiteStatus(ctx, status); err != nil {
		h.logger.Debug("Status cache write failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) ListSiteChecks(c *gin.Context) {
	siteID := c.Param("id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	before := time.Now().UTC()
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC3339 timestamp"})
			return
		}
		before = t
	}

	checks, err := h.repo.ListRecentChecks(c.Request.Context(), siteID, limit, before)
	if err != nil {
		h.logger.Error("Failed to list checks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checks": checks,
		"count":  len(checks),
	})
}

func (h *Handler) ListSiteAnomalies(c *gin.Context) {
	siteID := c.Param("id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	anomalies, err := h.repo.ListAnomalies(c.Request.Context(), siteID, limit)
	if err != nil {
		h.logger.Error("Failed to list anomalies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}
