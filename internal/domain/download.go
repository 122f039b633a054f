package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DownloadStatus represents the current status of a download
type DownloadStatus string

const (
	StatusQueued     DownloadStatus = "queued"
	StatusProcessing DownloadStatus = "processing"
	StatusCompleted  DownloadStatus = "completed"
	StatusFailed     DownloadStatus = "failed"
	StatusCancelled  DownloadStatus = "cancelled"
)

// Download is the persisted record of one user download intent
type Download struct {
	ID           string         `json:"id" gorm:"primaryKey"`
	URL          string         `json:"url" gorm:"not null;index"`
	Platform     string         `json:"platform"`
	MediaKind    MediaKind      `json:"media_kind" gorm:"not null;default:video"`
	Container    string         `json:"container"`
	Quality      string         `json:"quality" gorm:"default:best"`
	FPS          string         `json:"fps" gorm:"default:any"`
	Status       DownloadStatus `json:"status" gorm:"not null;index"`
	Priority     int            `json:"priority" gorm:"default:0;index"`
	RetryCount   int            `json:"retry_count" gorm:"default:0"`
	Strategy     StrategyKind   `json:"strategy,omitempty"`
	FellBack     bool           `json:"fell_back"`
	JobID        string         `json:"job_id,omitempty"`
	Percentage   float64        `json:"percentage"`
	StatusText   string         `json:"status_text,omitempty"`
	FilePath     string         `json:"file_path,omitempty"`
	Location     string         `json:"location,omitempty"` // Retrieval URL of a server artifact
	Bytes        int64          `json:"bytes,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     string         `json:"metadata,omitempty" gorm:"type:text"` // Cached MediaInfo JSON
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// NewDownload creates a new queued download
func NewDownload(url string, kind MediaKind, container string, quality QualitySelector, fps FPSSelector) *Download {
	return &Download{
		ID:        uuid.New().String(),
		URL:       url,
		Platform:  DetectPlatform(url, DefaultPlatformRules()),
		MediaKind: kind,
		Container: container,
		Quality:   quality.String(),
		FPS:       fps.String(),
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// Request rebuilds the DownloadRequest this record describes
func (d *Download) Request() (DownloadRequest, error) {
	quality, err := ParseQuality(d.MediaKind, d.Quality)
	if err != nil {
		return DownloadRequest{}, err
	}
	fps, err := ParseFPS(d.FPS)
	if err != nil {
		return DownloadRequest{}, err
	}
	req := DownloadRequest{
		SourceURL: d.URL,
		MediaKind: d.MediaKind,
		Container: d.Container,
		Quality:   quality,
		FPS:       fps,
	}
	if info, err := d.MediaInfo(); err == nil && info != nil {
		req.CachedExtractedURL = info.ExtractedURL
		req.Title = info.Title
	}
	return req, nil
}

// SetMediaInfo caches the analysis result on the record
func (d *Download) SetMediaInfo(info *MediaInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	d.Metadata = string(data)
	return nil
}

// MediaInfo returns the cached analysis result, or nil if none is cached
func (d *Download) MediaInfo() (*MediaInfo, error) {
	if d.Metadata == "" {
		return nil, nil
	}
	var info MediaInfo
	if err := json.Unmarshal([]byte(d.Metadata), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MarkProcessing marks the download as processing
func (d *Download) MarkProcessing() {
	d.Status = StatusProcessing
	d.Percentage = 0
	d.ErrorKind = ""
	d.ErrorMessage = ""
	now := time.Now()
	d.StartedAt = &now
	d.UpdatedAt = now
}

// MarkCompleted marks the download as completed
func (d *Download) MarkCompleted(outcome *Outcome) {
	d.Status = StatusCompleted
	d.Percentage = 100
	if outcome != nil {
		d.Strategy = outcome.Strategy
		d.FellBack = outcome.FellBack
		d.JobID = outcome.JobID
		d.FilePath = outcome.FilePath
		d.Location = outcome.Location
		d.Bytes = outcome.Bytes
	}
	now := time.Now()
	d.CompletedAt = &now
	d.UpdatedAt = now
}

// MarkFailed marks the download as failed
func (d *Download) MarkFailed(err error) {
	d.Status = StatusFailed
	d.ErrorKind = KindOf(err)
	d.ErrorMessage = err.Error()
	d.UpdatedAt = time.Now()
}

// MarkCancelled marks the download as cancelled
func (d *Download) MarkCancelled() {
	d.Status = StatusCancelled
	d.UpdatedAt = time.Now()
}

// IncrementRetry increments the retry counter
func (d *Download) IncrementRetry() {
	d.RetryCount++
	d.UpdatedAt = time.Now()
}

// CanRetry checks if the download can be retried
func (d *Download) CanRetry(maxRetries int) bool {
	return d.Status == StatusFailed && d.RetryCount < maxRetries
}

// ResetForRetry puts a finished download back in the queue
func (d *Download) ResetForRetry() {
	d.Status = StatusQueued
	d.Percentage = 0
	d.StatusText = ""
	d.ErrorKind = ""
	d.ErrorMessage = ""
	d.JobID = ""
	d.StartedAt = nil
	d.CompletedAt = nil
	d.UpdatedAt = time.Now()
}

// IsTerminal checks if the download is in a terminal state.
// Failed downloads can still be retried.
func (d *Download) IsTerminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusCancelled
}

// IsPending checks if the download is pending
func (d *Download) IsPending() bool {
	return d.Status == StatusQueued
}

// IsProcessing checks if the download is currently processing
func (d *Download) IsProcessing() bool {
	return d.Status == StatusProcessing
}

// DetectPlatform returns the name of the first routing rule matching the URL host
func DetectPlatform(rawURL string, rules []PlatformRule) string {
	host := HostOf(rawURL)
	for _, r := range rules {
		if r.Matches(host) {
			return r.Name
		}
	}
	return ""
}

// Outcome is the terminal success result of one orchestrated download
type Outcome struct {
	Strategy StrategyKind `json:"strategy"`
	FellBack bool         `json:"fell_back"`
	FilePath string       `json:"file_path,omitempty"`
	Location string       `json:"location,omitempty"`
	JobID    string       `json:"job_id,omitempty"`
	Bytes    int64        `json:"bytes,omitempty"`
}
