package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/domain"
	"github.com/yourusername/hqmx-go/internal/infrastructure"
	"github.com/yourusername/hqmx-go/pkg/logger"
)

var (
	// ErrDownloadNotFound is returned when no record matches an ID
	ErrDownloadNotFound = errors.New("download not found")
	// ErrInvalidState is returned when a record's status does not allow the operation
	ErrInvalidState = errors.New("invalid download state")
)

// DownloadManager runs persisted downloads through the orchestrator and keeps
// their records current
type DownloadManager struct {
	repo         domain.DownloadRepository
	orchestrator *DownloadOrchestrator
	artifacts    domain.DirectTransfer // Fetches server job results; nil disables
	notifier     *infrastructure.NotificationService
	hub          *ProgressHub
	config       *domain.DownloadConfig
	logger       *zap.Logger
	events       *logger.MultiLogger

	mu            sync.Mutex
	current       string // ID of the download in flight
	cancelCurrent context.CancelFunc
}

// NewDownloadManager creates a new download manager
func NewDownloadManager(
	repo domain.DownloadRepository,
	orchestrator *DownloadOrchestrator,
	notifier *infrastructure.NotificationService,
	config *domain.DownloadConfig,
	logger *zap.Logger,
) *DownloadManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadManager{
		repo:         repo,
		orchestrator: orchestrator,
		notifier:     notifier,
		config:       config,
		logger:       logger,
	}
}

// SetArtifactFetcher enables copying completed server job results into the completed directory
func (dm *DownloadManager) SetArtifactFetcher(fetcher domain.DirectTransfer) {
	dm.artifacts = fetcher
}

// SetProgressHub publishes live progress to hub
func (dm *DownloadManager) SetProgressHub(hub *ProgressHub) {
	dm.hub = hub
}

// SetEventLogger records strategy and outcome events in the download log
func (dm *DownloadManager) SetEventLogger(events *logger.MultiLogger) {
	dm.events = events
}

// Orchestrator exposes the orchestrator for analysis requests
func (dm *DownloadManager) Orchestrator() *DownloadOrchestrator {
	return dm.orchestrator
}

// CurrentDownload returns the ID of the download in flight, if any
func (dm *DownloadManager) CurrentDownload() string {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.current
}

// ProcessDownload runs one queued download to a terminal state, retrying
// transient failures up to MaxRetries times
func (dm *DownloadManager) ProcessDownload(ctx context.Context, download *domain.Download) error {
	runCtx, cancel := context.WithCancel(ctx)
	dm.mu.Lock()
	dm.current = download.ID
	dm.cancelCurrent = cancel
	dm.mu.Unlock()
	defer func() {
		dm.mu.Lock()
		dm.current = ""
		dm.cancelCurrent = nil
		dm.mu.Unlock()
		cancel()
	}()

	dm.logger.Info("Processing download",
		zap.String("id", download.ID),
		zap.String("url", download.URL),
		zap.String("platform", download.Platform))

	download.MarkProcessing()
	if err := dm.repo.Update(download); err != nil {
		return fmt.Errorf("failed to update download status: %w", err)
	}
	dm.publish(download, nil)
	if dm.notifier != nil {
		dm.notifier.NotifyDownloadStarted(download.URL, download.Platform)
	}

	req, err := download.Request()
	if err != nil {
		return dm.fail(download, err)
	}

	session, err := dm.session(runCtx, download)
	if err != nil {
		return dm.fail(download, err)
	}
	if req.Title == "" {
		req.Title = session.Info.Title
	}
	if req.CachedExtractedURL == "" {
		req.CachedExtractedURL = session.Info.ExtractedURL
	}

	strategy := dm.orchestrator.Decide(session, req)
	download.Strategy = strategy.Kind
	dm.logEvent("strategy_selected",
		zap.String("id", download.ID),
		zap.String("strategy", string(strategy.Kind)),
		zap.String("reason", strategy.Reason))

	var lastErr error
	for attempt := 0; attempt <= dm.config.MaxRetries; attempt++ {
		if attempt > 0 {
			dm.logger.Info("Retrying download",
				zap.String("id", download.ID),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", dm.config.MaxRetries))

			select {
			case <-time.After(dm.config.RetryDelay):
			case <-runCtx.Done():
				return dm.cancelled(ctx, download, runCtx.Err())
			}

			download.IncrementRetry()
			download.Percentage = 0
			dm.repo.Update(download)
		}

		outcome, err := dm.orchestrator.Download(runCtx, session, req, dm.progressFunc(runCtx, download))
		if err == nil {
			dm.fetchArtifact(runCtx, download, req, outcome)
			download.MarkCompleted(outcome)
			download.StatusText = ""
			if err := dm.repo.Update(download); err != nil {
				dm.logger.Error("Failed to update download status", zap.Error(err))
			}
			dm.publish(download, nil)
			dm.logEvent("download_completed",
				zap.String("id", download.ID),
				zap.String("strategy", string(outcome.Strategy)),
				zap.Bool("fell_back", outcome.FellBack),
				zap.String("file", outcome.FilePath),
				zap.String("location", outcome.Location))

			dm.logger.Info("Download completed",
				zap.String("id", download.ID),
				zap.String("url", download.URL),
				zap.String("strategy", string(outcome.Strategy)))
			return nil
		}

		if domain.KindOf(err) == domain.ErrCancelled || runCtx.Err() != nil {
			return dm.cancelled(ctx, download, err)
		}

		lastErr = err
		dm.logger.Warn("Download attempt failed",
			zap.String("id", download.ID),
			zap.Int("attempt", attempt),
			zap.String("error_kind", string(domain.KindOf(err))),
			zap.Error(err))

		if !isRetryable(err) {
			break
		}
	}

	return dm.fail(download, lastErr)
}

// cancelled settles a download whose run context ended. On shutdown the record
// stays processing and is requeued on the next start.
func (dm *DownloadManager) cancelled(ctx context.Context, download *domain.Download, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	download.MarkCancelled()
	dm.repo.Update(download)
	dm.publish(download, nil)
	dm.logger.Info("Download cancelled", zap.String("id", download.ID))
	return domain.NewError(domain.ErrCancelled, "process download", "cancelled by user", err)
}

// session builds the analysis session from the cached metadata, analyzing on a miss.
// A failed analysis still allows a server job.
func (dm *DownloadManager) session(ctx context.Context, download *domain.Download) (*Session, error) {
	if info, err := download.MediaInfo(); err == nil && info != nil {
		return NewSession(download.URL, info), nil
	}

	session, err := dm.orchestrator.Analyze(ctx, download.URL)
	if err != nil {
		if domain.KindOf(err) == domain.ErrValidation {
			return nil, err
		}
		dm.logger.Warn("Analysis failed, continuing without formats",
			zap.String("id", download.ID),
			zap.Error(err))
		return NewSession(download.URL, nil), nil
	}

	if err := download.SetMediaInfo(session.Info); err != nil {
		dm.logger.Warn("Failed to cache media info", zap.Error(err))
	}
	return session, nil
}

// fetchArtifact copies a server job result into the completed directory. A
// failed fetch leaves the remote location as the outcome.
func (dm *DownloadManager) fetchArtifact(ctx context.Context, download *domain.Download, req domain.DownloadRequest, outcome *domain.Outcome) {
	if dm.artifacts == nil || !dm.config.FetchArtifacts || outcome.Location == "" || outcome.FilePath != "" {
		return
	}

	download.StatusText = "Fetching result"
	dm.publish(download, nil)

	result, err := dm.artifacts.Execute(ctx, outcome.Location, req.Title, req.NormalizedContainer(), nil)
	if err != nil {
		dm.logger.Warn("Failed to fetch server artifact",
			zap.String("id", download.ID),
			zap.String("location", outcome.Location),
			zap.Error(err))
		return
	}
	outcome.FilePath = result.FilePath
	outcome.Bytes = result.Bytes
}

// progressFunc persists progress whenever the whole percentage changes and
// publishes every update
func (dm *DownloadManager) progressFunc(ctx context.Context, download *domain.Download) domain.ProgressFunc {
	var mu sync.Mutex
	lastSaved := -1.0

	return func(p domain.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}

		download.Percentage = p.Percentage
		download.Strategy = p.Strategy
		if p.Message != "" {
			download.StatusText = p.Message
		}
		if p.Restarted {
			download.FellBack = true
			lastSaved = -1
		}

		if whole := math.Floor(p.Percentage); whole != lastSaved {
			lastSaved = whole
			if err := dm.repo.Update(download); err != nil {
				dm.logger.Debug("Failed to persist progress", zap.Error(err))
			}
		}

		progress := p
		dm.publish(download, &progress)
	}
}

func (dm *DownloadManager) fail(download *domain.Download, err error) error {
	download.MarkFailed(err)
	if updateErr := dm.repo.Update(download); updateErr != nil {
		dm.logger.Error("Failed to update download status", zap.Error(updateErr))
	}
	dm.publish(download, nil)
	dm.logEvent("download_failed",
		zap.String("id", download.ID),
		zap.String("error_kind", string(download.ErrorKind)),
		zap.Error(err))

	dm.logger.Error("Download failed",
		zap.String("id", download.ID),
		zap.String("url", download.URL),
		zap.Error(err))
	return err
}

func (dm *DownloadManager) publish(download *domain.Download, progress *domain.Progress) {
	if dm.hub == nil {
		return
	}
	dm.hub.Publish(ProgressEvent{
		DownloadID: download.ID,
		Status:     download.Status,
		Progress:   progress,
		Error:      download.ErrorMessage,
	})
}

func (dm *DownloadManager) logEvent(event string, fields ...zap.Field) {
	if dm.events != nil {
		dm.events.LogDownloadEvent(event, fields...)
	}
}

// isRetryable reports whether another attempt could succeed
func isRetryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.ErrValidation, domain.ErrUnsupported, domain.ErrCancelled:
		return false
	default:
		return true
	}
}

// CancelDownload cancels a queued download or terminates the one in flight
func (dm *DownloadManager) CancelDownload(id string) error {
	download, err := dm.repo.FindByID(id)
	if err != nil || download == nil {
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	if download.IsTerminal() {
		return fmt.Errorf("%w: download already in terminal state: %s", ErrInvalidState, download.Status)
	}

	download.MarkCancelled()
	if err := dm.repo.Update(download); err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}

	dm.mu.Lock()
	cancel := dm.cancelCurrent
	inFlight := dm.current == id
	dm.mu.Unlock()
	if inFlight && cancel != nil {
		cancel()
		if dm.orchestrator != nil {
			dm.orchestrator.Cancel()
		}
	}

	dm.publish(download, nil)
	dm.logger.Info("Download cancelled", zap.String("id", id))
	return nil
}

// RetryDownload puts a failed or cancelled download back in the queue
func (dm *DownloadManager) RetryDownload(ctx context.Context, id string) error {
	download, err := dm.repo.FindByID(id)
	if err != nil || download == nil {
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	switch download.Status {
	case domain.StatusQueued:
		return fmt.Errorf("%w: download is already queued", ErrInvalidState)
	case domain.StatusProcessing:
		return fmt.Errorf("%w: download is currently processing", ErrInvalidState)
	case domain.StatusCompleted:
		return fmt.Errorf("%w: download already completed", ErrInvalidState)
	}

	download.ResetForRetry()
	download.RetryCount = 0

	if err := dm.repo.Update(download); err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}

	dm.publish(download, nil)
	dm.logger.Info("Download queued for retry", zap.String("id", id))
	return nil
}

// DeleteDownload removes a download record, terminating it first if it is in flight
func (dm *DownloadManager) DeleteDownload(id string) error {
	download, err := dm.repo.FindByID(id)
	if err != nil || download == nil {
		return fmt.Errorf("%w: %s", ErrDownloadNotFound, id)
	}

	if download.IsProcessing() {
		if err := dm.CancelDownload(id); err != nil {
			return err
		}
	}

	if err := dm.repo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	dm.logger.Info("Download deleted", zap.String("id", id))
	return nil
}
