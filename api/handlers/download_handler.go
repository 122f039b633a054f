package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/app"
)

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	queueMgr    *app.QueueManager
	downloadMgr *app.DownloadManager
	logger      *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(queueMgr *app.QueueManager, downloadMgr *app.DownloadManager, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		queueMgr:    queueMgr,
		downloadMgr: downloadMgr,
		logger:      logger,
	}
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req app.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	download, err := h.queueMgr.AddDownload(req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to add download", zap.Error(err))
		}
		c.JSON(status, errorBody(err))
		return
	}

	c.JSON(http.StatusCreated, download)
}

// GetDownload handles GET /api/v1/downloads/:id
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	id := c.Param("id")

	download, err := h.queueMgr.GetDownload(id)
	if err != nil || download == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	c.JSON(http.StatusOK, download)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	filters := make(map[string]interface{})
	for _, key := range []string{"status", "platform", "media_kind", "strategy", "url"} {
		if v := c.Query(key); v != "" {
			filters[key] = v
		}
	}

	downloads, err := h.queueMgr.ListDownloads(filters)
	if err != nil {
		h.logger.Error("Failed to list downloads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, downloads)
}

// GetStats handles GET /api/v1/downloads/stats
func (h *DownloadHandler) GetStats(c *gin.Context) {
	stats, err := h.queueMgr.GetStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// CancelDownload handles POST /api/v1/downloads/:id/cancel
func (h *DownloadHandler) CancelDownload(c *gin.Context) {
	id := c.Param("id")

	if err := h.downloadMgr.CancelDownload(id); err != nil {
		h.logger.Warn("Failed to cancel download", zap.String("id", id), zap.Error(err))
		c.JSON(statusFor(err), errorBody(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download cancelled"})
}

// RetryDownload handles POST /api/v1/downloads/:id/retry
func (h *DownloadHandler) RetryDownload(c *gin.Context) {
	id := c.Param("id")

	if err := h.downloadMgr.RetryDownload(c.Request.Context(), id); err != nil {
		h.logger.Warn("Failed to retry download", zap.String("id", id), zap.Error(err))
		c.JSON(statusFor(err), errorBody(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download queued for retry"})
}

// DeleteDownload handles DELETE /api/v1/downloads/:id
func (h *DownloadHandler) DeleteDownload(c *gin.Context) {
	id := c.Param("id")

	if err := h.downloadMgr.DeleteDownload(id); err != nil {
		h.logger.Warn("Failed to delete download", zap.String("id", id), zap.Error(err))
		c.JSON(statusFor(err), errorBody(err))
		return
	}

	c.Status(http.StatusNoContent)
}
