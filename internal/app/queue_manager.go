package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/domain"
	"github.com/yourusername/hqmx-go/pkg/logger"
)

// AddRequest describes a download to enqueue
type AddRequest struct {
	URL       string           `json:"url" binding:"required"`
	MediaKind domain.MediaKind `json:"media_kind"`
	Container string           `json:"container"`
	Quality   string           `json:"quality"`
	FPS       string           `json:"fps"`
	Priority  int              `json:"priority"`
}

// DownloadRequest validates r and builds the request it describes. Missing
// fields take their defaults and audio requests ignore the frame rate.
func (r AddRequest) DownloadRequest() (domain.DownloadRequest, error) {
	sourceURL := strings.TrimSpace(r.URL)
	if err := domain.ValidateSourceURL(sourceURL); err != nil {
		return domain.DownloadRequest{}, err
	}

	kind := r.MediaKind
	if kind == "" {
		kind = domain.KindVideo
	}
	if !domain.ValidateMediaKind(kind) {
		return domain.DownloadRequest{}, domain.NewError(domain.ErrValidation, "build request",
			fmt.Sprintf("invalid media kind: %s", kind), nil)
	}

	quality, err := domain.ParseQuality(kind, r.Quality)
	if err != nil {
		return domain.DownloadRequest{}, err
	}
	fps, err := domain.ParseFPS(r.FPS)
	if err != nil {
		return domain.DownloadRequest{}, err
	}
	if kind == domain.KindAudio {
		fps = domain.AnyFPS
	}

	return domain.DownloadRequest{
		SourceURL: sourceURL,
		MediaKind: kind,
		Container: strings.ToLower(strings.TrimSpace(r.Container)),
		Quality:   quality,
		FPS:       fps,
	}, nil
}

// QueueManager feeds queued downloads to the download manager one at a time
type QueueManager struct {
	repo        domain.DownloadRepository
	downloadMgr *DownloadManager
	config      *domain.QueueConfig
	multiLogger *logger.MultiLogger
	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	wake        chan struct{}
	exited      chan struct{}
	workerWg    sync.WaitGroup
}

// NewQueueManager creates a new queue manager
func NewQueueManager(
	repo domain.DownloadRepository,
	downloadMgr *DownloadManager,
	config *domain.QueueConfig,
	multiLogger *logger.MultiLogger,
) *QueueManager {
	return &QueueManager{
		repo:        repo,
		downloadMgr: downloadMgr,
		config:      config,
		multiLogger: multiLogger,
		wake:        make(chan struct{}, 1),
		exited:      make(chan struct{}),
	}
}

// Start requeues downloads orphaned by a previous run and starts the processor
func (qm *QueueManager) Start(ctx context.Context) error {
	qm.mu.Lock()
	if qm.running {
		qm.mu.Unlock()
		return fmt.Errorf("queue manager already running")
	}
	qm.running = true
	ctx, qm.cancel = context.WithCancel(ctx)
	qm.mu.Unlock()

	if n, err := qm.repo.ResetOrphanedProcessing(); err != nil {
		qm.logAppError("Failed to requeue orphaned downloads", zap.Error(err))
	} else if n > 0 {
		qm.logQueueEvent("orphans_requeued", zap.Int64("count", n))
	}

	qm.logQueueEvent("queue_started")

	qm.workerWg.Add(1)
	go qm.processQueue(ctx)

	return nil
}

// Stop stops the queue processor, interrupting the download in flight.
// The interrupted record stays processing and is requeued on the next start.
func (qm *QueueManager) Stop() error {
	qm.mu.Lock()
	if !qm.running {
		qm.mu.Unlock()
		return fmt.Errorf("queue manager not running")
	}
	qm.running = false
	cancel := qm.cancel
	qm.mu.Unlock()

	qm.logQueueEvent("queue_stopped")
	cancel()
	qm.workerWg.Wait()

	return nil
}

// IsRunning returns whether the queue manager is running
func (qm *QueueManager) IsRunning() bool {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.running
}

// WaitForExit is closed when the processor exits on its own after the queue
// stayed empty for EmptyWaitTime
func (qm *QueueManager) WaitForExit() <-chan struct{} {
	return qm.exited
}

// AddDownload validates and enqueues a download. An equivalent download that is
// queued, processing, or completed with its result still available is returned
// instead of a new one.
func (qm *QueueManager) AddDownload(req AddRequest) (*domain.Download, error) {
	dr, err := req.DownloadRequest()
	if err != nil {
		return nil, err
	}
	req.URL = dr.SourceURL

	download := domain.NewDownload(dr.SourceURL, dr.MediaKind, dr.Container, dr.Quality, dr.FPS)
	download.Priority = req.Priority

	existing, err := qm.repo.FindByURL(req.URL, []domain.DownloadStatus{
		domain.StatusQueued,
		domain.StatusProcessing,
		domain.StatusCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing downloads: %w", err)
	}
	if existing != nil && sameRequest(existing, download) && resultAvailable(existing) {
		qm.logQueueEvent("download_deduplicated",
			zap.String("id", existing.ID),
			zap.String("url", req.URL),
			zap.String("status", string(existing.Status)))
		return existing, nil
	}

	if err := qm.repo.Create(download); err != nil {
		return nil, fmt.Errorf("failed to create download: %w", err)
	}

	qm.logQueueEvent("download_added",
		zap.String("id", download.ID),
		zap.String("url", download.URL),
		zap.String("platform", download.Platform),
		zap.String("media_kind", string(download.MediaKind)),
		zap.String("quality", download.Quality))

	if qm.downloadMgr != nil && qm.downloadMgr.notifier != nil {
		qm.downloadMgr.notifier.NotifyDownloadQueued(download.URL, download.Platform)
	}

	select {
	case qm.wake <- struct{}{}:
	default:
	}

	return download, nil
}

// sameRequest reports whether two records ask for the same output
func sameRequest(a, b *domain.Download) bool {
	return a.MediaKind == b.MediaKind &&
		a.Container == b.Container &&
		a.Quality == b.Quality &&
		a.FPS == b.FPS
}

// resultAvailable reports whether a matching record makes a new download redundant
func resultAvailable(d *domain.Download) bool {
	if d.Status != domain.StatusCompleted {
		return true
	}
	if d.FilePath != "" {
		_, err := os.Stat(d.FilePath)
		return err == nil
	}
	return d.Location != ""
}

// GetDownload retrieves a download by ID
func (qm *QueueManager) GetDownload(id string) (*domain.Download, error) {
	return qm.repo.FindByID(id)
}

// ListDownloads lists all downloads with optional filters
func (qm *QueueManager) ListDownloads(filters map[string]interface{}) ([]*domain.Download, error) {
	return qm.repo.FindAll(filters)
}

// GetStats returns queue statistics
func (qm *QueueManager) GetStats() (*domain.DownloadStats, error) {
	return qm.repo.GetStats()
}

// processQueue drains pending downloads in priority order, one at a time
func (qm *QueueManager) processQueue(ctx context.Context) {
	defer qm.workerWg.Done()

	ticker := time.NewTicker(qm.config.CheckInterval)
	defer ticker.Stop()

	emptyStartTime := time.Time{}

	for {
		select {
		case <-ctx.Done():
			qm.logQueueEvent("queue_processor_stopped", zap.String("reason", "context_cancelled"))
			return
		case <-ticker.C:
		case <-qm.wake:
		}

		pending, err := qm.repo.FindPending()
		if err != nil {
			qm.logAppError("Failed to fetch pending downloads", zap.Error(err))
			continue
		}

		if len(pending) == 0 {
			if emptyStartTime.IsZero() {
				emptyStartTime = time.Now()
				qm.logQueueEvent("queue_empty")
				if qm.downloadMgr != nil && qm.downloadMgr.notifier != nil {
					qm.downloadMgr.notifier.NotifyQueueEmpty()
				}
			} else if qm.config.AutoExitOnEmpty && time.Since(emptyStartTime) > qm.config.EmptyWaitTime {
				qm.logQueueEvent("queue_auto_exit", zap.String("reason", "empty_timeout"))
				qm.mu.Lock()
				qm.running = false
				qm.mu.Unlock()
				close(qm.exited)
				return
			}
			continue
		}

		emptyStartTime = time.Time{}

		for _, download := range pending {
			if ctx.Err() != nil {
				break
			}
			qm.runDownload(ctx, download)
		}
	}
}

func (qm *QueueManager) runDownload(ctx context.Context, download *domain.Download) {
	qm.logQueueEvent("download_started",
		zap.String("id", download.ID),
		zap.String("url", download.URL),
		zap.String("platform", download.Platform))

	// The record may have been cancelled or deleted since it was listed
	current, err := qm.repo.FindByID(download.ID)
	if err != nil || current == nil || !current.IsPending() {
		return
	}

	if err := qm.downloadMgr.ProcessDownload(ctx, current); err != nil {
		qm.logQueueEvent("download_failed",
			zap.String("id", current.ID),
			zap.String("status", string(current.Status)),
			zap.Error(err))
		if domain.KindOf(err) != domain.ErrCancelled && ctx.Err() == nil {
			qm.logAppError("Failed to process download",
				zap.String("id", current.ID),
				zap.Error(err))
		}
		return
	}

	qm.logQueueEvent("download_completed",
		zap.String("id", current.ID),
		zap.String("strategy", string(current.Strategy)),
		zap.Bool("fell_back", current.FellBack),
		zap.String("file_path", current.FilePath))
}

func (qm *QueueManager) logQueueEvent(event string, fields ...zap.Field) {
	if qm.multiLogger != nil {
		qm.multiLogger.LogQueueEvent(event, fields...)
	}
}

func (qm *QueueManager) logAppError(msg string, fields ...zap.Field) {
	if qm.multiLogger != nil {
		qm.multiLogger.LogAppError(msg, fields...)
	}
}
