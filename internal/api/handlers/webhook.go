package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/store"
)

type WebhookRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// GetNotificationWebhook returns the configured webhook URL. An empty URL
// means notifications are disabled.
func (h *Handler) GetNotificationWebhook(c *gin.Context) {
	url, err := h.repo.GetAppSetting(c.Request.Context(), store.SettingNotificationWebhookURL)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("Failed to get webhook setting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) SetNotificationWebhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.repo.SetAppSetting(c.Request.Context(), store.SettingNotificationWebhookURL, req.URL); err != nil {
		h.logger.Error("Failed to set webhook setting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save webhook"})
		return
	}

	h.logger.Info("Notification webhook updated")

	c.JSON(http.StatusOK, gin.H{"url": req.URL})
}

// ClearNotificationWebhook disables notifications by blanking the URL.
func (h *Handler) ClearNotificationWebhook(c *gin.Context) {
	if err := h.repo.SetAppSetting(c.Request.Context(), store.SettingNotificationWebhookURL, ""); err != nil {
		h.logger.Error("Failed to clear webhook setting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear webhook"})
		return
	}

	c.JSON(http.StatusNoContent, nil)
}
