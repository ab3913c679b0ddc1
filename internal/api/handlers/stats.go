package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/store"
)

// GetSiteStats reports uptime and response time aggregates over a query
// range. Unknown ranges fall back to 24h.
func (h *Handler) GetSiteStats(c *gin.Context) {
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

	var period time.Duration
	switch c.DefaultQuery("range", "24h") {
	case "1h":
		period = time.Hour
	case "7d":
		period = 7 * 24 * time.Hour
	case "30d":
		period = 30 * 24 * time.Hour
	default:
		period = 24 * time.Hour
	}

	report, err := h.stats.Report(ctx, siteID, period)
	if err != nil {
		h.logger.Error("Failed to build stats report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, report)
}
