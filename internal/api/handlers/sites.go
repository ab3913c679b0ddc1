package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/store"
)

type CreateSiteRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=255"`
	URL      string `json:"url" binding:"required,url"`
	IsActive *bool  `json:"is_active"`
}

type UpdateSiteRequest struct {
	Name     *string `json:"name" binding:"omitempty,min=1,max=255"`
	URL      *string `json:"url" binding:"omitempty,url"`
	IsActive *bool   `json:"is_active"`
}

func (h *Handler) CreateSite(c *gin.Context) {
	var req CreateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validateSiteURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	site := &store.Site{
		ID:        uuid.New().String(),
		Name:      req.Name,
		URL:       req.URL,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.IsActive != nil {
		site.IsActive = *req.IsActive
	}

	if err := h.repo.CreateSite(c.Request.Context(), site); err != nil {
		h.logger.Error("Failed to create site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create site"})
		return
	}

	h.logger.Info("Site created",
		zap.String("site_id", site.ID),
		zap.String("url", site.URL),
	)

	c.JSON(http.StatusCreated, site)
}

func (h *Handler) GetSite(c *gin.Context) {
	site, err := h.repo.GetSite(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, site)
}

func (h *Handler) ListSites(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	offset := (page - 1) * limit

	sites, err := h.repo.ListSites(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list sites", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	total, _ := h.repo.CountSites(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"sites": sites,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *Handler) UpdateSite(c *gin.Context) {
	site, err := h.repo.GetSite(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req UpdateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.URL != nil {
		if err := validateSiteURL(*req.URL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		site.URL = *req.URL
	}
	if req.Name != nil {
		site.Name = *req.Name
	}
	if req.IsActive != nil {
		site.IsActive = *req.IsActive
	}
	site.UpdatedAt = time.Now().UTC()

	if err := h.repo.UpdateSite(c.Request.Context(), site); err != nil {
		h.logger.Error("Failed to update site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update site"})
		return
	}

	c.JSON(http.StatusOK, site)
}

func (h *Handler) DeleteSite(c *gin.Context) {
	siteID := c.Param("id")

	err := h.repo.DeleteSite(c.Request.Context(), siteID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete site"})
		return
	}

	if err := h.cache.InvalidateSiteStatus(c.Request.Context(), siteID); err != nil {
		h.logger.Debug("Failed to invalidate status cache", zap.Error(err))
	}

	c.JSON(http.StatusNoContent, nil)
}

// TriggerCheck runs the site's probe pipeline synchronously and returns the
// recorded check. Detection and notification run as part of the same call.
func (h *Handler) TriggerCheck(c *gin.Context) {
	site, err := h.repo.GetSite(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	check, err := h.checker.CheckSite(site)
	if err != nil {
		h.logger.Error("Manual check failed",
			zap.String("site_id", site.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run check"})
		return
	}

	if err := h.cache.InvalidateSiteStatus(c.Request.Context(), site.ID); err != nil {
		h.logger.Debug("Failed to invalidate status cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, check)
}

func validateSiteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}
