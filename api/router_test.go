package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/app"
	"github.com/yourusername/hqmx-go/internal/domain"
	"github.com/yourusername/hqmx-go/internal/infrastructure"
	"github.com/yourusername/hqmx-go/pkg/logger"
)

// stubBackend answers analysis requests; nothing in these tests runs a job
type stubBackend struct {
	info *domain.MediaInfo
	err  error
}

func (b *stubBackend) Analyze(ctx context.Context, sourceURL string) (*domain.MediaInfo, error) {
	if b.err != nil {
		return nil, b.err
	}
	info := *b.info
	return &info, nil
}

func (b *stubBackend) SubmitJob(ctx context.Context, submission domain.JobSubmission) (string, error) {
	return "", errors.New("not used")
}

func (b *stubBackend) OpenProgress(ctx context.Context, jobID string) (domain.ProgressStream, error) {
	return nil, errors.New("not used")
}

func (b *stubBackend) CheckStatus(ctx context.Context, jobID string) (*domain.JobMessage, error) {
	return nil, errors.New("not used")
}

func (b *stubBackend) FileURL(jobID string) string { return "http://backend/api/get-file/" + jobID }

func (b *stubBackend) ThumbnailProxyURL(imageURL string) string { return imageURL }

type apiFixture struct {
	router  http.Handler
	repo    *infrastructure.SQLiteDownloadRepository
	backend *stubBackend
	hub     *app.ProgressHub
	events  *logger.MultiLogger
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo, err := infrastructure.NewSQLiteDownloadRepository(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logsDir := t.TempDir()
	events, err := logger.NewMultiLogger(logger.MultiLoggerConfig{Level: "info", LogsDir: logsDir})
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	backend := &stubBackend{info: &domain.MediaInfo{
		Title:           "Clip",
		DurationSeconds: 60,
		VideoFormats: []domain.Format{
			{FormatID: "22", URL: "https://cdn.example.com/v/22.mp4", Container: "mp4", Height: 720, FPS: 30, VideoCodec: "avc1", AudioCodec: "mp4a", BitrateKbps: 2500},
		},
		AudioFormats: []domain.Format{
			{FormatID: "140", URL: "https://cdn.example.com/a/140.m4a", Container: "m4a", AudioCodec: "mp4a", AudioBitrateKbps: 128},
		},
	}}

	jobs := app.NewServerJobController(backend, time.Millisecond, nil)
	orchestrator := app.NewDownloadOrchestrator(backend, app.NewStrategySelector(domain.RoutingConfig{}), nil, jobs, nil, nil)
	hub := app.NewProgressHub()
	t.Cleanup(hub.Close)

	downloadMgr := app.NewDownloadManager(repo, orchestrator, nil, &domain.DownloadConfig{MaxRetries: 1}, nil)
	downloadMgr.SetProgressHub(hub)
	queueMgr := app.NewQueueManager(repo, downloadMgr, &domain.QueueConfig{CheckInterval: time.Hour}, events)

	router := SetupRouter(Dependencies{
		QueueManager:    queueMgr,
		DownloadManager: downloadMgr,
		ProgressHub:     hub,
		Events:          events,
		LogsDir:         logsDir,
		Logger:          zap.NewNop(),
	})
	return &apiFixture{router: router, repo: repo, backend: backend, hub: hub, events: events}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) add(t *testing.T, url string) domain.Download {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/downloads", map[string]interface{}{"url": url, "quality": "720p"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d domain.Download
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	return d
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["queue"].(map[string]interface{})["running"])

	w = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDownloadEndpoints_AddGetList(t *testing.T) {
	f := newAPIFixture(t)

	d := f.add(t, "https://vimeo.com/1")
	assert.Equal(t, domain.StatusQueued, d.Status)
	assert.Equal(t, "720", d.Quality)
	f.add(t, "https://www.instagram.com/reel/abc")

	w := f.do(t, http.MethodGet, "/api/v1/downloads/"+d.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/downloads/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/downloads?platform=instagram", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []domain.Download
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "https://www.instagram.com/reel/abc", listed[0].URL)

	w = f.do(t, http.MethodGet, "/api/v1/downloads/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.DownloadStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.Queued)
}

func TestDownloadEndpoints_AddRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/downloads", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/downloads", map[string]string{"url": "https://vimeo.com/1", "quality": "ultra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["kind"])

	w = f.do(t, http.MethodPost, "/api/v1/downloads", map[string]string{"url": "ftp://vimeo.com/1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadEndpoints_CancelRetryDelete(t *testing.T) {
	f := newAPIFixture(t)
	d := f.add(t, "https://vimeo.com/1")

	w := f.do(t, http.MethodPost, "/api/v1/downloads/"+d.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "queued downloads cannot be retried")

	w = f.do(t, http.MethodPost, "/api/v1/downloads/"+d.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/downloads/"+d.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/downloads/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/downloads/"+d.ID+"/retry", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	stored, err := f.repo.FindByID(d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, stored.Status)

	w = f.do(t, http.MethodDelete, "/api/v1/downloads/"+d.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/downloads/"+d.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/analyze", map[string]string{"url": "https://vimeo.com/1", "quality": "720"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Title            string    `json:"title"`
		HeightPresets    []int     `json:"height_presets"`
		AvailableHeights []int     `json:"available_heights"`
		AvailableFPS     []float64 `json:"available_fps"`
		Estimate         struct {
			TotalBytes float64 `json:"total_bytes"`
		} `json:"estimate"`
		Strategy struct {
			Kind string `json:"kind"`
		} `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Clip", resp.Title)
	assert.Equal(t, []int{720, 480, 360, 240, 144}, resp.HeightPresets)
	assert.Equal(t, []int{720}, resp.AvailableHeights)
	assert.Equal(t, []float64{30}, resp.AvailableFPS)
	assert.Greater(t, resp.Estimate.TotalBytes, 0.0)
	assert.Equal(t, "direct_stream", resp.Strategy.Kind)
}

func TestEstimateEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/estimate", map[string]string{"url": "https://vimeo.com/1", "quality": "1080"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "server_job", body["strategy"].(map[string]interface{})["kind"])

	w = f.do(t, http.MethodPost, "/api/v1/estimate", map[string]string{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.backend.err = domain.NewError(domain.ErrNetwork, "analyze", "backend returned 503", nil)
	w = f.do(t, http.MethodPost, "/api/v1/estimate", map[string]string{"url": "https://vimeo.com/1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "network", decode(t, w)["kind"])
}

func TestLogEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.add(t, "https://vimeo.com/1")
	require.NoError(t, f.events.Sync())

	w := f.do(t, http.MethodGet, "/api/v1/logs/categories", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "queue")

	w = f.do(t, http.MethodGet, "/api/v1/logs/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/v1/logs/queue/search?q=download_added", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/v1/logs/queue/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/logs/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/logs/queue?date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/logs/queue/export", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "download_added")

	w = f.do(t, http.MethodGet, "/api/v1/logs/queue/export?date=2001-01-01", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func dialWS(t *testing.T, server *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestProgressWebSocket(t *testing.T) {
	f := newAPIFixture(t)
	d := f.add(t, "https://vimeo.com/1")

	server := httptest.NewServer(f.router)
	defer server.Close()

	conn, _, err := dialWS(t, server, "/api/v1/progress?id="+d.ID)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial app.ProgressEvent
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, d.ID, initial.DownloadID)
	assert.Equal(t, domain.StatusQueued, initial.Status)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.hub.Publish(app.ProgressEvent{DownloadID: "other", Status: domain.StatusProcessing})
	f.hub.Publish(app.ProgressEvent{
		DownloadID: d.ID,
		Status:     domain.StatusProcessing,
		Progress:   &domain.Progress{Strategy: domain.StrategyDirectStream, Percentage: 42},
	})

	var event app.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, d.ID, event.DownloadID)
	require.NotNil(t, event.Progress)
	assert.Equal(t, 42.0, event.Progress.Percentage)

	_, resp, err := dialWS(t, server, "/api/v1/progress?id=missing")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogWebSocket_SendsBacklog(t *testing.T) {
	f := newAPIFixture(t)
	f.add(t, "https://vimeo.com/1")
	require.NoError(t, f.events.Sync())

	server := httptest.NewServer(f.router)
	defer server.Close()

	conn, _, err := dialWS(t, server, "/api/v1/logs/queue/ws")
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var entry logger.LogEntry
	require.NoError(t, conn.ReadJSON(&entry))
	assert.Equal(t, "download_added", entry.Message)
}
