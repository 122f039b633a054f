package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// mockRepo is an in-memory DownloadRepository. Records are stored and returned
// as copies, like a real database.
type mockRepo struct {
	mu        sync.Mutex
	downloads []*domain.Download
	orphans   int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{downloads: make([]*domain.Download, 0)}
}

func clone(d *domain.Download) *domain.Download {
	c := *d
	return &c
}

func (m *mockRepo) Create(download *domain.Download) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, clone(download))
	return nil
}

func (m *mockRepo) Update(download *domain.Download) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.downloads {
		if d.ID == download.ID {
			m.downloads[i] = clone(download)
			return nil
		}
	}
	return nil
}

func (m *mockRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.downloads {
		if d.ID == id {
			m.downloads = append(m.downloads[:i], m.downloads[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockRepo) FindByID(id string) (*domain.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.downloads {
		if d.ID == id {
			return clone(d), nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindByURL(url string, statuses []domain.DownloadStatus) (*domain.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.downloads) - 1; i >= 0; i-- {
		d := m.downloads[i]
		if d.URL != url {
			continue
		}
		for _, s := range statuses {
			if d.Status == s {
				return clone(d), nil
			}
		}
	}
	return nil, nil
}

func (m *mockRepo) FindByStatus(status domain.DownloadStatus) ([]*domain.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Download
	for _, d := range m.downloads {
		if d.Status == status {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

func (m *mockRepo) FindPending() ([]*domain.Download, error) {
	pending, _ := m.FindByStatus(domain.StatusQueued)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority > pending[j].Priority
	})
	return pending, nil
}

func (m *mockRepo) FindAll(filters map[string]interface{}) ([]*domain.Download, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Download, 0, len(m.downloads))
	for _, d := range m.downloads {
		out = append(out, clone(d))
	}
	return out, nil
}

func (m *mockRepo) Count() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.downloads)), nil
}

func (m *mockRepo) CountByStatus(status domain.DownloadStatus) (int64, error) {
	list, _ := m.FindByStatus(status)
	return int64(len(list)), nil
}

func (m *mockRepo) ResetOrphanedProcessing() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.downloads {
		if d.Status == domain.StatusProcessing {
			d.Status = domain.StatusQueued
			n++
		}
	}
	m.orphans += n
	return n, nil
}

func (m *mockRepo) GetStats() (*domain.DownloadStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.DownloadStats{Total: int64(len(m.downloads))}
	for _, d := range m.downloads {
		switch d.Status {
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusProcessing:
			stats.Processing++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (m *mockRepo) get(id string) *domain.Download {
	d, _ := m.FindByID(id)
	return d
}

// fakeStream replays scripted messages, then ends with endErr or blocks until
// its subscription is closed
type fakeStream struct {
	ctx    context.Context
	msgs   []*domain.JobMessage
	endErr error
	closed bool
	mu     sync.Mutex
}

func (s *fakeStream) Next() (*domain.JobMessage, error) {
	s.mu.Lock()
	if len(s.msgs) > 0 {
		msg := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.mu.Unlock()
		return msg, nil
	}
	endErr := s.endErr
	s.mu.Unlock()

	if endErr != nil {
		return nil, endErr
	}
	<-s.ctx.Done()
	return nil, s.ctx.Err()
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// streamScript is what one OpenProgress call serves
type streamScript struct {
	msgs    []*domain.JobMessage
	endErr  error
	openErr error
}

// fakeBackend is a scripted domain.Backend
type fakeBackend struct {
	mu sync.Mutex

	info       *domain.MediaInfo
	analyzeErr error

	taskIDs     []string
	submitErr   error
	submissions []domain.JobSubmission

	scripts []streamScript
	opened  int

	status     *domain.JobMessage
	statusErr  error
	checkCalls int

	analyzeCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{taskIDs: []string{"task-1"}}
}

func (b *fakeBackend) Analyze(ctx context.Context, sourceURL string) (*domain.MediaInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analyzeCalls++
	if b.analyzeErr != nil {
		return nil, b.analyzeErr
	}
	if b.info == nil {
		return &domain.MediaInfo{}, nil
	}
	info := *b.info
	return &info, nil
}

func (b *fakeBackend) SubmitJob(ctx context.Context, submission domain.JobSubmission) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submissions = append(b.submissions, submission)
	if b.submitErr != nil {
		return "", b.submitErr
	}
	if len(b.taskIDs) == 0 {
		return "", nil
	}
	id := b.taskIDs[0]
	if len(b.taskIDs) > 1 {
		b.taskIDs = b.taskIDs[1:]
	}
	return id, nil
}

func (b *fakeBackend) OpenProgress(ctx context.Context, jobID string) (domain.ProgressStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++

	var script streamScript
	if len(b.scripts) > 0 {
		script = b.scripts[0]
		b.scripts = b.scripts[1:]
	}
	if script.openErr != nil {
		return nil, script.openErr
	}
	return &fakeStream{ctx: ctx, msgs: script.msgs, endErr: script.endErr}, nil
}

func (b *fakeBackend) CheckStatus(ctx context.Context, jobID string) (*domain.JobMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkCalls++
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	if b.status == nil {
		return &domain.JobMessage{Status: domain.JobMessageError, Message: "unknown task"}, nil
	}
	return b.status, nil
}

func (b *fakeBackend) FileURL(jobID string) string {
	return "http://backend/api/get-file/" + jobID
}

func (b *fakeBackend) ThumbnailProxyURL(imageURL string) string {
	return imageURL
}

func (b *fakeBackend) networkCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.analyzeCalls + len(b.submissions) + b.opened + b.checkCalls
}

func (b *fakeBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

func (b *fakeBackend) submissionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submissions)
}

func progressMsg(pct float64) *domain.JobMessage {
	return &domain.JobMessage{Status: domain.JobMessageProgress, Percentage: &pct}
}

func completeMsg() *domain.JobMessage {
	pct := 100.0
	return &domain.JobMessage{Status: domain.JobMessageComplete, Percentage: &pct}
}

// fakeDirect is a scripted domain.DirectTransfer
type fakeDirect struct {
	mu       sync.Mutex
	progress []float64
	err      error
	urls     []string
}

func (f *fakeDirect) Execute(ctx context.Context, url, title, container string, onProgress domain.ProgressFunc) (*domain.TransferResult, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	progress, err := f.progress, f.err
	f.mu.Unlock()

	for _, p := range progress {
		if onProgress != nil {
			onProgress(domain.Progress{Strategy: domain.StrategyDirectStream, Percentage: p})
		}
	}
	if err != nil {
		return nil, err
	}
	name := title + "." + container
	return &domain.TransferResult{FileName: name, FilePath: "/downloads/completed/" + name, Bytes: 1024}, nil
}

func (f *fakeDirect) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

// fakeExtractor is a scripted domain.Extractor
type fakeExtractor struct {
	err   error
	calls int
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) Extract(ctx context.Context, req domain.DownloadRequest, onProgress domain.ProgressFunc) (*domain.TransferResult, error) {
	f.calls++
	if onProgress != nil {
		onProgress(domain.Progress{Strategy: domain.StrategyExternalExtraction, Percentage: 40})
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.TransferResult{FileName: "clip.mp4", FilePath: "/downloads/completed/clip.mp4", Bytes: 2048}, nil
}

// recordingListener records terminal notifications
type recordingListener struct {
	mu        sync.Mutex
	completed []*domain.Outcome
	failed    []error
}

func (l *recordingListener) TransferCompleted(req domain.DownloadRequest, outcome *domain.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, outcome)
}

func (l *recordingListener) TransferFailed(req domain.DownloadRequest, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, err)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed), len(l.failed)
}

// progressLog collects progress callbacks
type progressLog struct {
	mu      sync.Mutex
	updates []domain.Progress
}

func (p *progressLog) record(update domain.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
}

func (p *progressLog) percentages() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]float64, 0, len(p.updates))
	for _, u := range p.updates {
		out = append(out, u.Percentage)
	}
	return out
}

func (p *progressLog) all() []domain.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Progress(nil), p.updates...)
}

// directInfo is an analysis result with one pre-merged, directly fetchable 720p mp4
func directInfo() *domain.MediaInfo {
	return &domain.MediaInfo{
		Title:           "Clip",
		DurationSeconds: 60,
		VideoFormats: []domain.Format{
			{FormatID: "22", URL: "https://cdn.example.com/v/22.mp4", Container: "mp4", Height: 720, FPS: 30, VideoCodec: "avc1", AudioCodec: "mp4a", BitrateKbps: 2500},
		},
		AudioFormats: []domain.Format{
			{FormatID: "140", URL: "https://cdn.example.com/a/140.m4a", Container: "m4a", AudioCodec: "mp4a", AudioBitrateKbps: 128},
		},
	}
}

func videoRequest(url string) domain.DownloadRequest {
	return domain.DownloadRequest{
		SourceURL: url,
		MediaKind: domain.KindVideo,
		Container: "mp4",
		Quality:   domain.HeightQuality(720),
		FPS:       domain.AnyFPS,
	}
}

const testTimeout = 2 * time.Second
