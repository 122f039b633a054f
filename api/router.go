package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/api/handlers"
	"github.com/yourusername/hqmx-go/api/middleware"
	"github.com/yourusername/hqmx-go/internal/app"
	"github.com/yourusername/hqmx-go/pkg/logger"
)

// Dependencies are the services the HTTP API exposes
type Dependencies struct {
	QueueManager    *app.QueueManager
	DownloadManager *app.DownloadManager
	ProgressHub     *app.ProgressHub
	Events          *logger.MultiLogger // optional
	LogsDir         string
	Logger          *zap.Logger
}

// SetupRouter sets up the HTTP router
func SetupRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	router.Use(middleware.Logger(log, deps.Events))
	router.Use(middleware.Recovery(log, deps.Events))
	router.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(deps.QueueManager, deps.DownloadManager)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		analyzeHandler := handlers.NewAnalyzeHandler(deps.DownloadManager.Orchestrator(), log)
		v1.POST("/analyze", analyzeHandler.Analyze)
		v1.POST("/estimate", analyzeHandler.Estimate)

		downloadHandler := handlers.NewDownloadHandler(deps.QueueManager, deps.DownloadManager, log)
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.AddDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/stats", downloadHandler.GetStats)
			downloads.GET("/:id", downloadHandler.GetDownload)
			downloads.POST("/:id/cancel", downloadHandler.CancelDownload)
			downloads.POST("/:id/retry", downloadHandler.RetryDownload)
			downloads.DELETE("/:id", downloadHandler.DeleteDownload)
		}

		if deps.ProgressHub != nil {
			progressHandler := handlers.NewProgressWebSocketHandler(deps.ProgressHub, deps.QueueManager, log)
			v1.GET("/progress", progressHandler.HandleWebSocket)
		}

		if deps.LogsDir != "" {
			logHandler := handlers.NewLogHandler(deps.LogsDir)
			logStream := handlers.NewLogWebSocketHandler(deps.LogsDir, log)
			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/search", logHandler.SearchLogs)
				logs.GET("/:category/export", logHandler.ExportLogs)
				logs.GET("/:category/ws", logStream.HandleWebSocket)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
