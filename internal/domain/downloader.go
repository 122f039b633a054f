package domain

import (
	"context"
	"io"
)

// Progress is one progress observation for an attempt. Total is 0 when unknown.
type Progress struct {
	Strategy   StrategyKind `json:"strategy"`
	Percentage float64      `json:"percentage"`
	Loaded     int64        `json:"loaded,omitempty"`
	Total      int64        `json:"total,omitempty"`
	Message    string       `json:"message,omitempty"`
	Restarted  bool         `json:"restarted,omitempty"` // First observation after a fallback or resubmission
}

// ProgressFunc receives progress observations in network order
type ProgressFunc func(Progress)

// TransferResult describes a locally saved payload
type TransferResult struct {
	FileName string
	FilePath string
	Bytes    int64
}

// Payload is an in-progress save. Exactly one of Commit or Abort must be called.
type Payload interface {
	io.Writer
	Commit() (string, error)
	Abort() error
}

// PayloadSaver persists transferred bytes under a file name
type PayloadSaver interface {
	Begin(fileName string) (Payload, error)
}

// DirectTransfer fetches a URL and saves the payload locally. The saved name comes
// from Content-Disposition when present, else from title, with container appended.
type DirectTransfer interface {
	Execute(ctx context.Context, url, title, container string, onProgress ProgressFunc) (*TransferResult, error)
}

// Extractor performs credentialed, out-of-process extraction for session-bound sources
type Extractor interface {
	// Extract downloads the requested media and returns the saved file
	Extract(ctx context.Context, req DownloadRequest, onProgress ProgressFunc) (*TransferResult, error)

	// Name identifies the extractor in logs
	Name() string
}

// JobSubmission is the body of a server-side job request
type JobSubmission struct {
	URL          string `json:"url"`
	MediaType    string `json:"mediaType"`
	FormatType   string `json:"formatType"`
	Quality      string `json:"quality"`
	FPS          string `json:"fps,omitempty"`
	AudioQuality string `json:"audio_quality,omitempty"`
	ExtractedURL string `json:"extracted_url,omitempty"`
	Title        string `json:"title,omitempty"`
	UseClientIP  bool   `json:"useClientIP"`
}

// JobMessage is one push-channel message or reconciliation response
type JobMessage struct {
	Status     string   `json:"status"` // progress, complete, error
	Percentage *float64 `json:"percentage,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Push-channel message statuses
const (
	JobMessageProgress = "progress"
	JobMessageComplete = "complete"
	JobMessageError    = "error"
)

// ProgressStream is an open push-channel subscription
type ProgressStream interface {
	// Next blocks for the next message; io.EOF means the channel ended
	Next() (*JobMessage, error)
	Close() error
}

// Backend is the analysis/conversion service
type Backend interface {
	Analyze(ctx context.Context, sourceURL string) (*MediaInfo, error)
	SubmitJob(ctx context.Context, submission JobSubmission) (string, error)
	OpenProgress(ctx context.Context, jobID string) (ProgressStream, error)
	CheckStatus(ctx context.Context, jobID string) (*JobMessage, error)
	FileURL(jobID string) string
	ThumbnailProxyURL(imageURL string) string
}

// TransferListener is notified of terminal outcomes; it never affects the outcome
type TransferListener interface {
	TransferCompleted(req DownloadRequest, outcome *Outcome)
	TransferFailed(req DownloadRequest, err error)
}
