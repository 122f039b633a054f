package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/app"
	"github.com/yourusername/hqmx-go/internal/domain"
)

// AnalyzeHandler serves source analysis and size estimates
type AnalyzeHandler struct {
	orchestrator *app.DownloadOrchestrator
	logger       *zap.Logger
}

// NewAnalyzeHandler creates a new analyze handler
func NewAnalyzeHandler(orchestrator *app.DownloadOrchestrator, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// StrategyResponse describes how a request would be carried out
type StrategyResponse struct {
	Kind     domain.StrategyKind `json:"kind"`
	Reason   string              `json:"reason,omitempty"`
	Platform string              `json:"platform,omitempty"`
}

// AnalyzeResponse is the option set offered for one source
type AnalyzeResponse struct {
	Title            string            `json:"title"`
	Duration         float64           `json:"duration"`
	Thumbnail        string            `json:"thumbnail,omitempty"`
	Platform         string            `json:"platform,omitempty"`
	HeightPresets    []int             `json:"height_presets"`
	AvailableHeights []int             `json:"available_heights"`
	AvailableFPS     []float64         `json:"available_fps"`
	BitratePresets   []int             `json:"bitrate_presets"`
	Estimate         domain.Estimate   `json:"estimate"`
	Strategy         StrategyResponse  `json:"strategy"`
	Request          map[string]string `json:"request"`
}

// EstimateResponse is the size estimate for one request
type EstimateResponse struct {
	Estimate domain.Estimate  `json:"estimate"`
	Strategy StrategyResponse `json:"strategy"`
}

// Analyze handles POST /api/v1/analyze
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	session, req, ok := h.analyze(c)
	if !ok {
		return
	}

	catalog := session.Catalog
	strategy := h.orchestrator.Decide(session, req)
	platform := strategy.Platform
	if platform == "" {
		platform = domain.DetectPlatform(req.SourceURL, domain.DefaultPlatformRules())
	}
	c.JSON(http.StatusOK, AnalyzeResponse{
		Title:            session.Info.Title,
		Duration:         session.Info.DurationSeconds,
		Thumbnail:        session.Info.ThumbnailURL,
		Platform:         platform,
		HeightPresets:    catalog.HeightPresets(session.Info.ThumbnailHeight),
		AvailableHeights: catalog.AvailableHeights(),
		AvailableFPS:     catalog.AvailableFPS(),
		BitratePresets:   catalog.BitratePresets(),
		Estimate:         session.Estimate(req),
		Strategy:         strategyResponse(strategy),
		Request: map[string]string{
			"media_kind": string(req.MediaKind),
			"container":  req.NormalizedContainer(),
			"quality":    req.Quality.String(),
			"fps":        req.FPS.String(),
		},
	})
}

// Estimate handles POST /api/v1/estimate
func (h *AnalyzeHandler) Estimate(c *gin.Context) {
	session, req, ok := h.analyze(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, EstimateResponse{
		Estimate: session.Estimate(req),
		Strategy: strategyResponse(h.orchestrator.Decide(session, req)),
	})
}

// analyze binds the request body and analyzes its source, writing the error
// response itself when it fails
func (h *AnalyzeHandler) analyze(c *gin.Context) (*app.Session, domain.DownloadRequest, bool) {
	var body app.AddRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, domain.DownloadRequest{}, false
	}

	req, err := body.DownloadRequest()
	if err != nil {
		c.JSON(statusFor(err), errorBody(err))
		return nil, domain.DownloadRequest{}, false
	}

	session, err := h.orchestrator.Analyze(c.Request.Context(), req.SourceURL)
	if err != nil {
		h.logger.Warn("Analysis failed", zap.String("url", req.SourceURL), zap.Error(err))
		c.JSON(statusFor(err), errorBody(err))
		return nil, domain.DownloadRequest{}, false
	}

	req.Title = session.Info.Title
	req.CachedExtractedURL = session.Info.ExtractedURL
	return session, req, true
}

func strategyResponse(s domain.Strategy) StrategyResponse {
	return StrategyResponse{Kind: s.Kind, Reason: s.Reason, Platform: s.Platform}
}
