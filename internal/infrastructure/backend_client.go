package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// thumbnailProxyHosts serve images that refuse cross-origin loading
var thumbnailProxyHosts = []string{"cdninstagram.com", "instagram.com", "fbcdn.net"}

// BackendClient talks to the analysis/conversion service over HTTP and SSE
type BackendClient struct {
	baseURL        string
	client         *http.Client
	streamClient   *http.Client
	acceptLanguage string
	userAgent      string
	logger         *zap.Logger
}

// NewBackendClient creates a new backend client
func NewBackendClient(config domain.BackendConfig, logger *zap.Logger) *BackendClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BackendClient{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		client:         &http.Client{Timeout: timeout},
		streamClient:   &http.Client{}, // The push channel has no deadline of its own
		acceptLanguage: config.AcceptLanguage,
		userAgent:      config.UserAgent,
		logger:         logger,
	}
}

type analyzeResponse struct {
	domain.MediaInfo
	Error string `json:"error,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// Analyze asks the backend for the formats of a source URL
func (c *BackendClient) Analyze(ctx context.Context, sourceURL string) (*domain.MediaInfo, error) {
	var resp analyzeResponse
	status, err := c.postJSON(ctx, "/analyze", map[string]string{"url": sourceURL}, &resp)
	if err != nil {
		return nil, domain.NewError(domain.ErrNetwork, "analyze", "analysis request failed", err)
	}
	if status < 200 || status >= 300 || resp.Error != "" {
		return nil, domain.NewError(domain.ErrNetwork, "analyze", errorMessage(resp.Error, status), nil)
	}

	info := resp.MediaInfo
	info.ThumbnailURL = c.ThumbnailProxyURL(info.ThumbnailURL)
	return &info, nil
}

// SubmitJob posts a conversion job and returns its task id
func (c *BackendClient) SubmitJob(ctx context.Context, submission domain.JobSubmission) (string, error) {
	var resp submitResponse
	status, err := c.postJSON(ctx, "/download", submission, &resp)
	if err != nil {
		return "", domain.NewError(domain.ErrNetwork, "submit job", "job request failed", err)
	}
	if status < 200 || status >= 300 || resp.Error != "" {
		return "", domain.NewError(domain.ErrSubmission, "submit job", errorMessage(resp.Error, status), nil)
	}
	if resp.TaskID == "" {
		return "", domain.NewError(domain.ErrSubmission, "submit job", "backend response has no task id", nil)
	}

	c.logger.Debug("Job submitted", zap.String("task_id", resp.TaskID), zap.String("url", submission.URL))
	return resp.TaskID, nil
}

// OpenProgress subscribes to a job's push channel
func (c *BackendClient) OpenProgress(ctx context.Context, jobID string) (domain.ProgressStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/stream-progress/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.setHeaders(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.ErrChannel, "open progress", "progress channel unavailable", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, domain.NewError(domain.ErrChannel, "open progress", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return newSSEStream(resp.Body), nil
}

// CheckStatus performs the one-shot reconciliation poll
func (c *BackendClient) CheckStatus(ctx context.Context, jobID string) (*domain.JobMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/check-status/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.ErrNetwork, "check status", "status request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewError(domain.ErrNetwork, "check status", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var msg domain.JobMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, domain.NewError(domain.ErrNetwork, "check status", "invalid status response", err)
	}
	return &msg, nil
}

// FileURL returns the retrieval location of a completed job's artifact
func (c *BackendClient) FileURL(jobID string) string {
	return c.endpoint("/get-file/" + url.PathEscape(jobID))
}

// ThumbnailProxyURL routes CORS-restricted thumbnails through the backend proxy
func (c *BackendClient) ThumbnailProxyURL(imageURL string) string {
	if imageURL == "" {
		return ""
	}
	host := domain.HostOf(imageURL)
	for _, h := range thumbnailProxyHosts {
		if strings.Contains(host, h) {
			return c.endpoint("/thumbnail-proxy?url=" + url.QueryEscape(imageURL))
		}
	}
	return imageURL
}

func (c *BackendClient) postJSON(ctx context.Context, path string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *BackendClient) setHeaders(req *http.Request) {
	if c.acceptLanguage != "" {
		req.Header.Set("Accept-Language", c.acceptLanguage)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func (c *BackendClient) endpoint(path string) string {
	return c.baseURL + path
}

func errorMessage(backendErr string, status int) string {
	if backendErr != "" {
		return backendErr
	}
	return fmt.Sprintf("unexpected status %d", status)
}
