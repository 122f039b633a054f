package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/pkg/logger"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	backlogSize  = 50
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// watchClose returns a context that ends when the peer closes the connection.
// Incoming messages are discarded.
func watchClose(parent context.Context, conn *websocket.Conn) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return ctx
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func writePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// LogWebSocketHandler streams a category's log entries as they are written
type LogWebSocketHandler struct {
	logReader *logger.LogReader
	logger    *zap.Logger
}

// NewLogWebSocketHandler creates a new WebSocket handler
func NewLogWebSocketHandler(logsDir string, log *zap.Logger) *LogWebSocketHandler {
	return &LogWebSocketHandler{
		logReader: logger.NewLogReader(logsDir),
		logger:    log,
	}
}

// HandleWebSocket handles GET /api/v1/logs/:category/ws. The last entries of
// today's log are sent first, then new entries as they arrive.
func (h *LogWebSocketHandler) HandleWebSocket(c *gin.Context) {
	category, err := logger.ParseCategory(c.Param("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("Log stream client connected",
		zap.String("category", string(category)),
		zap.String("remote_addr", c.Request.RemoteAddr))

	ctx := watchClose(c.Request.Context(), conn)

	entries, err := h.logReader.ReadLogs(category, time.Now(), backlogSize)
	if err == nil {
		for _, entry := range entries {
			if err := writeJSON(conn, entry); err != nil {
				return
			}
		}
	}

	entryChan := make(chan logger.LogEntry, 100)
	go func() {
		if err := h.logReader.TailLogs(ctx, category, entryChan); err != nil {
			h.logger.Error("Log tailing error", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-entryChan:
			if err := writeJSON(conn, entry); err != nil {
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
