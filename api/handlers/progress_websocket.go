package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/app"
	"github.com/yourusername/hqmx-go/internal/domain"
)

// ProgressWebSocketHandler streams live download progress
type ProgressWebSocketHandler struct {
	hub      *app.ProgressHub
	queueMgr *app.QueueManager
	logger   *zap.Logger
}

// NewProgressWebSocketHandler creates a new progress stream handler
func NewProgressWebSocketHandler(hub *app.ProgressHub, queueMgr *app.QueueManager, logger *zap.Logger) *ProgressWebSocketHandler {
	return &ProgressWebSocketHandler{
		hub:      hub,
		queueMgr: queueMgr,
		logger:   logger,
	}
}

// HandleWebSocket handles GET /api/v1/progress. With ?id= only that download's
// events are sent, starting with its current state.
func (h *ProgressWebSocketHandler) HandleWebSocket(c *gin.Context) {
	id := c.Query("id")

	var initial *app.ProgressEvent
	if id != "" {
		download, err := h.queueMgr.GetDownload(id)
		if err != nil || download == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
			return
		}
		initial = &app.ProgressEvent{
			DownloadID: download.ID,
			Status:     download.Status,
			Progress: &domain.Progress{
				Strategy:   download.Strategy,
				Percentage: download.Percentage,
				Message:    download.StatusText,
			},
			Error:      download.ErrorMessage,
			Timestamp:  time.Now(),
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe(id)
	defer unsubscribe()

	ctx := watchClose(c.Request.Context(), conn)

	if initial != nil {
		if err := writeJSON(conn, initial); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(conn, event); err != nil {
				return
			}
		case <-ticker.C:
			if err := writePing(conn); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
