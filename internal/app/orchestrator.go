package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// Session is the orchestrator-owned record of one analyzed source URL
type Session struct {
	SourceURL string
	Info      *domain.MediaInfo
	Catalog   *domain.FormatCatalog

	mu          sync.Mutex
	activeJobID string
}

// NewSession wraps an analysis result. A nil info yields an empty catalog.
func NewSession(sourceURL string, info *domain.MediaInfo) *Session {
	if info == nil {
		info = &domain.MediaInfo{}
	}
	return &Session{
		SourceURL: sourceURL,
		Info:      info,
		Catalog:   domain.NewFormatCatalog(info),
	}
}

// ActiveJobID returns the server job currently running for this session
func (s *Session) ActiveJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJobID
}

func (s *Session) setActiveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeJobID = id
}

// Estimate returns the approximate output size of a request
func (s *Session) Estimate(req domain.DownloadRequest) domain.Estimate {
	return domain.EstimateRequest(s.Catalog, s.Info.DurationSeconds, req)
}

// attempt is the single active download slot
type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// DownloadOrchestrator composes strategy selection with the direct, extraction
// and server-job executors and reports one terminal outcome per download
type DownloadOrchestrator struct {
	backend   domain.Backend
	selector  *StrategySelector
	direct    domain.DirectTransfer
	jobs      *ServerJobController
	extractor domain.Extractor
	logger    *zap.Logger

	listenerMu sync.RWMutex
	listeners  []domain.TransferListener

	mu     sync.Mutex
	active *attempt
}

// NewDownloadOrchestrator creates a new orchestrator. extractor may be nil, in
// which case credentialed platforms are handed to the server.
func NewDownloadOrchestrator(
	backend domain.Backend,
	selector *StrategySelector,
	direct domain.DirectTransfer,
	jobs *ServerJobController,
	extractor domain.Extractor,
	logger *zap.Logger,
) *DownloadOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadOrchestrator{
		backend:   backend,
		selector:  selector,
		direct:    direct,
		jobs:      jobs,
		extractor: extractor,
		logger:    logger,
	}
}

// Subscribe registers a listener for terminal outcomes
func (o *DownloadOrchestrator) Subscribe(listener domain.TransferListener) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.listeners = append(o.listeners, listener)
}

// Analyze fetches media information for a source URL
func (o *DownloadOrchestrator) Analyze(ctx context.Context, sourceURL string) (*Session, error) {
	if err := domain.ValidateSourceURL(sourceURL); err != nil {
		return nil, err
	}

	info, err := o.backend.Analyze(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Media analyzed",
		zap.String("url", sourceURL),
		zap.String("title", info.Title),
		zap.Int("video_formats", len(info.VideoFormats)),
		zap.Int("audio_formats", len(info.AudioFormats)))
	return NewSession(sourceURL, info), nil
}

// Decide returns the strategy a download would use without running it
func (o *DownloadOrchestrator) Decide(session *Session, req domain.DownloadRequest) domain.Strategy {
	return o.selector.Decide(req.SourceURL, req, session.Catalog)
}

// Download runs one request to a terminal outcome. A call made while another
// download is in flight terminates the prior attempt first.
func (o *DownloadOrchestrator) Download(ctx context.Context, session *Session, req domain.DownloadRequest, onProgress domain.ProgressFunc) (*domain.Outcome, error) {
	ctx, release := o.acquire(ctx)
	defer release()

	if session == nil {
		session = NewSession(req.SourceURL, nil)
	}

	outcome, err := o.run(ctx, session, req, newProgressReporter(onProgress))
	if err != nil {
		if domain.KindOf(err) != domain.ErrCancelled {
			o.notifyFailed(req, err)
		}
		o.logger.Warn("Download failed",
			zap.String("url", req.SourceURL),
			zap.String("error_kind", string(domain.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	o.notifyCompleted(req, outcome)
	o.logger.Info("Download completed",
		zap.String("url", req.SourceURL),
		zap.String("strategy", string(outcome.Strategy)),
		zap.Bool("fell_back", outcome.FellBack))
	return outcome, nil
}

// Cancel terminates the in-flight download, if any, and waits for it to stop
func (o *DownloadOrchestrator) Cancel() {
	o.mu.Lock()
	current := o.active
	o.mu.Unlock()
	if current != nil {
		current.cancel()
		<-current.done
	}
}

// Busy reports whether a download is in flight
func (o *DownloadOrchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

func (o *DownloadOrchestrator) acquire(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	a := &attempt{cancel: cancel, done: make(chan struct{})}

	for {
		o.mu.Lock()
		prev := o.active
		if prev == nil {
			o.active = a
			o.mu.Unlock()
			break
		}
		o.mu.Unlock()
		o.logger.Info("Terminating previous download attempt")
		prev.cancel()
		<-prev.done
	}

	return ctx, func() {
		cancel()
		o.mu.Lock()
		if o.active == a {
			o.active = nil
		}
		o.mu.Unlock()
		close(a.done)
	}
}

func (o *DownloadOrchestrator) run(ctx context.Context, session *Session, req domain.DownloadRequest, progress *progressReporter) (*domain.Outcome, error) {
	if err := o.validate(session, req); err != nil {
		return nil, err
	}

	strategy := o.selector.Decide(req.SourceURL, req, session.Catalog)
	o.logger.Info("Strategy selected",
		zap.String("url", req.SourceURL),
		zap.String("strategy", string(strategy.Kind)),
		zap.String("platform", strategy.Platform),
		zap.String("reason", strategy.Reason))

	switch strategy.Kind {
	case domain.StrategyUnsupported:
		reason := strategy.Reason
		if reason == "" {
			reason = "no delivery strategy for this source"
		}
		return nil, domain.NewError(domain.ErrUnsupported, "download", reason, nil)

	case domain.StrategyDirectStream:
		result, err := o.direct.Execute(ctx, strategy.URL, titleOf(session, req), req.NormalizedContainer(), progress.report)
		if err == nil {
			return &domain.Outcome{
				Strategy: domain.StrategyDirectStream,
				FilePath: result.FilePath,
				Bytes:    result.Bytes,
			}, nil
		}
		return o.fallback(ctx, session, req, progress, err)

	case domain.StrategyExternalExtraction:
		if o.extractor == nil {
			return o.runServerJob(ctx, session, req, progress)
		}
		result, err := o.extractor.Extract(ctx, req, progress.report)
		if err == nil {
			return &domain.Outcome{
				Strategy: domain.StrategyExternalExtraction,
				FilePath: result.FilePath,
				Bytes:    result.Bytes,
			}, nil
		}
		return o.fallback(ctx, session, req, progress, err)

	default:
		return o.runServerJob(ctx, session, req, progress)
	}
}

// fallback retries a failed client-side attempt once as a server job
func (o *DownloadOrchestrator) fallback(ctx context.Context, session *Session, req domain.DownloadRequest, progress *progressReporter, firstErr error) (*domain.Outcome, error) {
	if ctx.Err() != nil {
		return nil, domain.NewError(domain.ErrCancelled, "download", "attempt superseded", ctx.Err())
	}
	if !domain.IsFallbackEligible(firstErr) {
		return nil, firstErr
	}

	o.logger.Warn("Client-side transfer failed, falling back to server job",
		zap.String("url", req.SourceURL),
		zap.Error(firstErr))

	progress.restart()
	outcome, err := o.runServerJob(ctx, session, req, progress)
	if err != nil {
		if domain.KindOf(err) == domain.ErrCancelled {
			return nil, err
		}
		return nil, domain.NewError(domain.KindOf(err), "download",
			"client-side transfer and server job both failed", multierr.Combine(firstErr, err))
	}
	outcome.FellBack = true
	return outcome, nil
}

func (o *DownloadOrchestrator) runServerJob(ctx context.Context, session *Session, req domain.DownloadRequest, progress *progressReporter) (*domain.Outcome, error) {
	if req.CachedExtractedURL == "" {
		req.CachedExtractedURL = session.Info.ExtractedURL
	}
	if req.Title == "" {
		req.Title = session.Info.Title
	}

	job, err := o.jobs.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	session.setActiveJob(job.ID)
	defer session.setActiveJob("")

	if err := o.jobs.Watch(ctx, job, progress.report); err != nil {
		return nil, err
	}

	location, err := o.jobs.Finalize(job)
	if err != nil {
		return nil, domain.NewError(domain.ErrJob, "finalize job", "artifact unavailable", err)
	}
	return &domain.Outcome{
		Strategy: domain.StrategyServerJob,
		JobID:    job.ID,
		Location: location,
	}, nil
}

func (o *DownloadOrchestrator) validate(session *Session, req domain.DownloadRequest) error {
	if err := domain.ValidateSourceURL(req.SourceURL); err != nil {
		return err
	}
	if !domain.ValidateMediaKind(req.MediaKind) {
		return domain.NewError(domain.ErrValidation, "download", fmt.Sprintf("invalid media kind: %s", req.MediaKind), nil)
	}
	if session.SourceURL != "" && session.SourceURL != req.SourceURL {
		return domain.NewError(domain.ErrValidation, "download", "request does not belong to this analysis session", nil)
	}
	q := req.Quality
	if !q.Best && q.Height <= 0 && q.BitrateKbps <= 0 {
		return domain.NewError(domain.ErrValidation, "download", "no quality selected", nil)
	}
	if req.MediaKind == domain.KindVideo && q.Height > 0 && len(session.Catalog.VideoFormats()) > 0 &&
		q.Height > session.Catalog.MaxHeight(session.Info.ThumbnailHeight) {
		return domain.NewError(domain.ErrValidation, "download",
			fmt.Sprintf("no quality candidate: %dp exceeds source resolution", q.Height), nil)
	}
	return nil
}

func (o *DownloadOrchestrator) notifyCompleted(req domain.DownloadRequest, outcome *domain.Outcome) {
	o.listenerMu.RLock()
	defer o.listenerMu.RUnlock()
	for _, l := range o.listeners {
		l.TransferCompleted(req, outcome)
	}
}

func (o *DownloadOrchestrator) notifyFailed(req domain.DownloadRequest, err error) {
	o.listenerMu.RLock()
	defer o.listenerMu.RUnlock()
	for _, l := range o.listeners {
		l.TransferFailed(req, err)
	}
}

func titleOf(session *Session, req domain.DownloadRequest) string {
	if req.Title != "" {
		return req.Title
	}
	return session.Info.Title
}

// progressReporter clamps the surfaced percentage across one download.
// The baseline resets when a fallback job starts.
type progressReporter struct {
	onProgress domain.ProgressFunc
	tracker    domain.ProgressTracker

	mu        sync.Mutex
	restarted bool
}

func newProgressReporter(onProgress domain.ProgressFunc) *progressReporter {
	return &progressReporter{onProgress: onProgress}
}

func (p *progressReporter) report(update domain.Progress) {
	update.Percentage = p.tracker.Observe(update.Percentage)

	p.mu.Lock()
	update.Restarted = p.restarted
	p.restarted = false
	p.mu.Unlock()

	if p.onProgress != nil {
		p.onProgress(update)
	}
}

func (p *progressReporter) restart() {
	p.tracker.Restart()
	p.mu.Lock()
	p.restarted = true
	p.mu.Unlock()
}
