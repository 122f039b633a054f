package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// ServerJobController submits conversion jobs to the backend, follows their
// push channel and reconciles once when the channel drops
type ServerJobController struct {
	backend        domain.Backend
	reconcileDelay time.Duration
	logger         *zap.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// subscription is the single open watch of one job
type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServerJobController creates a new job controller
func NewServerJobController(backend domain.Backend, reconcileDelay time.Duration, logger *zap.Logger) *ServerJobController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerJobController{
		backend:        backend,
		reconcileDelay: reconcileDelay,
		logger:         logger,
		subs:           make(map[string]*subscription),
	}
}

// BuildSubmission maps a request onto the backend's job payload. Audio jobs carry
// the container in quality and the bitrate selector in audio_quality.
func BuildSubmission(req domain.DownloadRequest) domain.JobSubmission {
	container := req.NormalizedContainer()
	submission := domain.JobSubmission{
		URL:          req.SourceURL,
		MediaType:    string(req.MediaKind),
		FormatType:   container,
		ExtractedURL: req.CachedExtractedURL,
		Title:        req.Title,
		UseClientIP:  true,
	}

	if req.MediaKind == domain.KindAudio {
		submission.Quality = container
		submission.AudioQuality = req.Quality.String()
	} else {
		submission.Quality = req.Quality.String()
		submission.FPS = req.FPS.String()
	}
	return submission
}

// Submit posts a job and returns it in the Streaming state
func (c *ServerJobController) Submit(ctx context.Context, req domain.DownloadRequest) (*domain.Job, error) {
	job := domain.NewJob()

	id, err := c.backend.SubmitJob(ctx, BuildSubmission(req))
	if err != nil {
		job.Fail(err.Error())
		return nil, err
	}
	if id == "" {
		job.Fail("missing task id")
		return nil, domain.NewError(domain.ErrSubmission, "submit job", "backend response has no task id", nil)
	}
	if err := job.Accept(id); err != nil {
		return nil, err
	}

	c.logger.Info("Server job accepted",
		zap.String("task_id", id),
		zap.String("url", req.SourceURL),
		zap.String("media_kind", string(req.MediaKind)))
	return job, nil
}

// Watch follows a job's push channel until a terminal state and returns nil on
// completion. Starting a second watch on the same job closes the first one.
func (c *ServerJobController) Watch(ctx context.Context, job *domain.Job, onProgress domain.ProgressFunc) error {
	ctx, release := c.subscribe(ctx, job.ID)
	defer release()

	stream, err := c.backend.OpenProgress(ctx, job.ID)
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled(job, ctx.Err())
		}
		c.logger.Warn("Progress channel failed to open", zap.String("task_id", job.ID), zap.Error(err))
		return c.reconcile(ctx, job, onProgress, err)
	}

	for {
		msg, err := stream.Next()
		if err != nil {
			stream.Close()
			if ctx.Err() != nil {
				return c.cancelled(job, ctx.Err())
			}
			c.logger.Warn("Progress channel disconnected", zap.String("task_id", job.ID), zap.Error(err))
			return c.reconcile(ctx, job, onProgress, err)
		}

		switch msg.Status {
		case domain.JobMessageError:
			stream.Close()
			job.Fail(msg.Message)
			return domain.NewError(domain.ErrJob, "watch job", failureMessage(msg), nil)
		case domain.JobMessageComplete:
			stream.Close()
			c.report(job, msg, 100, onProgress)
			if err := job.Complete(); err != nil {
				return err
			}
			c.logger.Info("Server job completed", zap.String("task_id", job.ID))
			return nil
		default:
			_, last, _ := job.Snapshot()
			c.report(job, msg, last, onProgress)
		}
	}
}

// Finalize returns the retrieval location of a completed job's artifact
func (c *ServerJobController) Finalize(job *domain.Job) (string, error) {
	state, _, _ := job.Snapshot()
	if state != domain.JobCompleted {
		return "", fmt.Errorf("job %s is not completed: %s", job.ID, state)
	}
	return c.backend.FileURL(job.ID), nil
}

// Close terminates the open subscription of a job, if any
func (c *ServerJobController) Close(jobID string) {
	c.mu.Lock()
	sub := c.subs[jobID]
	c.mu.Unlock()
	if sub != nil {
		sub.cancel()
		<-sub.done
	}
}

// ActiveSubscriptions returns the number of open watches
func (c *ServerJobController) ActiveSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// subscribe closes any prior watch of the job and registers a new one
func (c *ServerJobController) subscribe(ctx context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	for {
		c.mu.Lock()
		prev := c.subs[jobID]
		if prev == nil {
			c.subs[jobID] = sub
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
		prev.cancel()
		<-prev.done
	}

	return ctx, func() {
		cancel()
		c.mu.Lock()
		if c.subs[jobID] == sub {
			delete(c.subs, jobID)
		}
		c.mu.Unlock()
		close(sub.done)
	}
}

// reconcile waits the fixed delay and asks the backend for the job's status once
func (c *ServerJobController) reconcile(ctx context.Context, job *domain.Job, onProgress domain.ProgressFunc, cause error) error {
	channelErr := domain.NewError(domain.ErrChannel, "watch job", "progress channel lost", cause)

	select {
	case <-time.After(c.reconcileDelay):
	case <-ctx.Done():
		return c.cancelled(job, ctx.Err())
	}

	status, err := c.backend.CheckStatus(ctx, job.ID)
	if err != nil {
		job.Fail(err.Error())
		return domain.NewError(domain.ErrJob, "reconcile job", "status check failed after channel loss", fmt.Errorf("%v: %w", channelErr, err))
	}

	c.logger.Info("Server job reconciled",
		zap.String("task_id", job.ID),
		zap.String("status", status.Status))

	if status.Status == domain.JobMessageComplete {
		c.report(job, status, 100, onProgress)
		return job.Complete()
	}

	job.Fail(status.Message)
	return domain.NewError(domain.ErrJob, "reconcile job", failureMessage(status), channelErr)
}

func (c *ServerJobController) report(job *domain.Job, msg *domain.JobMessage, fallback float64, onProgress domain.ProgressFunc) {
	pct := fallback
	if msg.Percentage != nil {
		pct = *msg.Percentage
	}
	surfaced := job.ApplyProgress(pct, msg.Message)
	if onProgress != nil {
		onProgress(domain.Progress{
			Strategy:   domain.StrategyServerJob,
			Percentage: surfaced,
			Message:    msg.Message,
		})
	}
}

// cancelled leaves the job state untouched so a newer watch can still finish it
func (c *ServerJobController) cancelled(job *domain.Job, err error) error {
	c.logger.Debug("Server job watch closed", zap.String("task_id", job.ID))
	return domain.NewError(domain.ErrCancelled, "watch job", "subscription closed", err)
}

func failureMessage(msg *domain.JobMessage) string {
	if msg.Message != "" {
		return msg.Message
	}
	return fmt.Sprintf("job ended with status %q", msg.Status)
}
