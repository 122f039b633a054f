package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/hqmx-go/internal/domain"
)

func newTestJobController(backend *fakeBackend) *ServerJobController {
	return NewServerJobController(backend, 10*time.Millisecond, nil)
}

func submitTestJob(t *testing.T, c *ServerJobController) *domain.Job {
	t.Helper()
	job, err := c.Submit(context.Background(), videoRequest("https://www.instagram.com/reel/abc"))
	require.NoError(t, err)
	return job
}

func TestBuildSubmission(t *testing.T) {
	t.Run("video", func(t *testing.T) {
		req := videoRequest("https://www.instagram.com/reel/abc")
		req.FPS = 60
		req.CachedExtractedURL = "https://cdn.example.com/x.mp4"
		req.Title = "Reel"

		sub := BuildSubmission(req)
		assert.Equal(t, domain.JobSubmission{
			URL:          "https://www.instagram.com/reel/abc",
			MediaType:    "video",
			FormatType:   "mp4",
			Quality:      "720",
			FPS:          "60",
			ExtractedURL: "https://cdn.example.com/x.mp4",
			Title:        "Reel",
			UseClientIP:  true,
		}, sub)
	})

	t.Run("audio carries container in quality", func(t *testing.T) {
		sub := BuildSubmission(domain.DownloadRequest{
			SourceURL: "https://soundcloud.com/a/b",
			MediaKind: domain.KindAudio,
			Container: "FLAC",
			Quality:   domain.BitrateQuality(192),
		})
		assert.Equal(t, "audio", sub.MediaType)
		assert.Equal(t, "flac", sub.FormatType)
		assert.Equal(t, "flac", sub.Quality)
		assert.Equal(t, "192", sub.AudioQuality)
		assert.Empty(t, sub.FPS)
	})

	t.Run("best video", func(t *testing.T) {
		req := videoRequest("https://x.com/a")
		req.Quality = domain.BestQuality()
		sub := BuildSubmission(req)
		assert.Equal(t, "best", sub.Quality)
		assert.Equal(t, "any", sub.FPS)
	})
}

func TestServerJobController_Submit(t *testing.T) {
	backend := newFakeBackend()
	c := newTestJobController(backend)

	job := submitTestJob(t, c)
	assert.Equal(t, "task-1", job.ID)
	state, _, _ := job.Snapshot()
	assert.Equal(t, domain.JobStreaming, state)
	require.Len(t, backend.submissions, 1)
	assert.True(t, backend.submissions[0].UseClientIP)
}

func TestServerJobController_SubmitErrors(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		backend := newFakeBackend()
		backend.submitErr = domain.NewError(domain.ErrSubmission, "submit job", "quota exceeded", nil)

		job, err := newTestJobController(backend).Submit(context.Background(), videoRequest("https://x.com/a"))
		assert.Nil(t, job)
		assert.Equal(t, domain.ErrSubmission, domain.KindOf(err))
	})

	t.Run("missing task id", func(t *testing.T) {
		backend := newFakeBackend()
		backend.taskIDs = nil

		job, err := newTestJobController(backend).Submit(context.Background(), videoRequest("https://x.com/a"))
		assert.Nil(t, job)
		assert.Equal(t, domain.ErrSubmission, domain.KindOf(err))
	})
}

func TestServerJobController_WatchNeverRegresses(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{msgs: []*domain.JobMessage{
		progressMsg(10), progressMsg(5), progressMsg(40), completeMsg(),
	}}}
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	var log progressLog
	require.NoError(t, c.Watch(context.Background(), job, log.record))

	assert.Equal(t, []float64{10, 10, 40, 100}, log.percentages())
	for _, p := range log.all() {
		assert.Equal(t, domain.StrategyServerJob, p.Strategy)
	}
	state, last, _ := job.Snapshot()
	assert.Equal(t, domain.JobCompleted, state)
	assert.Equal(t, 100.0, last)
	assert.Equal(t, 0, c.ActiveSubscriptions())

	location, err := c.Finalize(job)
	require.NoError(t, err)
	assert.Equal(t, "http://backend/api/get-file/task-1", location)
}

func TestServerJobController_ProgressWithoutPercentageKeepsLast(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{msgs: []*domain.JobMessage{
		progressMsg(30),
		{Status: domain.JobMessageProgress, Message: "Merging formats"},
		completeMsg(),
	}}}
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	var log progressLog
	require.NoError(t, c.Watch(context.Background(), job, log.record))

	updates := log.all()
	require.Len(t, updates, 3)
	assert.Equal(t, 30.0, updates[1].Percentage)
	assert.Equal(t, "Merging formats", updates[1].Message)
}

func TestServerJobController_ErrorMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{msgs: []*domain.JobMessage{
		progressMsg(20),
		{Status: domain.JobMessageError, Message: "ffmpeg exited with status 1"},
	}}}
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	err := c.Watch(context.Background(), job, nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrJob, domain.KindOf(err))
	assert.Contains(t, err.Error(), "ffmpeg exited with status 1")

	state, _, msg := job.Snapshot()
	assert.Equal(t, domain.JobFailed, state)
	assert.Equal(t, "ffmpeg exited with status 1", msg)
	assert.Equal(t, 0, backend.checkCalls)

	_, err = c.Finalize(job)
	assert.Error(t, err)
}

func TestServerJobController_ReconcilesOnceAfterChannelDrop(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{msgs: []*domain.JobMessage{progressMsg(30)}, endErr: io.EOF}}
	backend.status = &domain.JobMessage{Status: domain.JobMessageComplete}
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	var log progressLog
	start := time.Now()
	require.NoError(t, c.Watch(context.Background(), job, log.record))

	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 1, backend.checkCalls)
	assert.Equal(t, 1, backend.openCount())
	assert.Equal(t, []float64{30, 100}, log.percentages())

	state, _, _ := job.Snapshot()
	assert.Equal(t, domain.JobCompleted, state)
}

func TestServerJobController_ReconcileReportsFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{endErr: errors.New("connection reset")}}
	backend.status = &domain.JobMessage{Status: domain.JobMessageError, Message: "source removed"}
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	err := c.Watch(context.Background(), job, nil)
	assert.Equal(t, domain.ErrJob, domain.KindOf(err))
	assert.Contains(t, err.Error(), "source removed")
	assert.Equal(t, 1, backend.checkCalls)

	state, _, _ := job.Snapshot()
	assert.Equal(t, domain.JobFailed, state)
}

func TestServerJobController_ReconcileStillProcessingFails(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{endErr: io.EOF}}
	backend.status = &domain.JobMessage{Status: domain.JobMessageProgress}
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	err := c.Watch(context.Background(), job, nil)
	assert.Equal(t, domain.ErrJob, domain.KindOf(err))
	assert.Equal(t, 1, backend.checkCalls)
}

func TestServerJobController_ReconcileCheckFails(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{openErr: domain.NewError(domain.ErrChannel, "open progress", "404", nil)}}
	backend.statusErr = errors.New("backend down")
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	err := c.Watch(context.Background(), job, nil)
	assert.Equal(t, domain.ErrJob, domain.KindOf(err))
	assert.Contains(t, err.Error(), "backend down")
	assert.Equal(t, 1, backend.checkCalls)
}

func TestServerJobController_CancelDuringReconcileDelay(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{{endErr: io.EOF}}
	c := NewServerJobController(backend, time.Hour, nil)
	job := submitTestJob(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := c.Watch(ctx, job, nil)
	assert.Equal(t, domain.ErrCancelled, domain.KindOf(err))
	assert.Equal(t, 0, backend.checkCalls)

	state, _, _ := job.Snapshot()
	assert.Equal(t, domain.JobStreaming, state)
}

func TestServerJobController_SecondWatchClosesFirst(t *testing.T) {
	backend := newFakeBackend()
	backend.scripts = []streamScript{
		{msgs: []*domain.JobMessage{progressMsg(25)}}, // then blocks
		{msgs: []*domain.JobMessage{progressMsg(60), completeMsg()}},
	}
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- c.Watch(context.Background(), job, nil)
	}()
	require.Eventually(t, func() bool { return c.ActiveSubscriptions() == 1 }, testTimeout, 5*time.Millisecond)

	var log progressLog
	require.NoError(t, c.Watch(context.Background(), job, log.record))

	select {
	case err := <-firstErr:
		assert.Equal(t, domain.ErrCancelled, domain.KindOf(err))
	case <-time.After(testTimeout):
		t.Fatal("first watch did not stop")
	}

	assert.Equal(t, 2, backend.openCount())
	assert.Equal(t, 0, c.ActiveSubscriptions())
	assert.Equal(t, []float64{60, 100}, log.percentages())
}

func TestServerJobController_Close(t *testing.T) {
	backend := newFakeBackend()
	c := newTestJobController(backend)
	job := submitTestJob(t, c)

	done := make(chan error, 1)
	go func() {
		done <- c.Watch(context.Background(), job, nil)
	}()
	require.Eventually(t, func() bool { return c.ActiveSubscriptions() == 1 }, testTimeout, 5*time.Millisecond)

	c.Close(job.ID)
	assert.Equal(t, domain.ErrCancelled, domain.KindOf(<-done))
	assert.Equal(t, 0, c.ActiveSubscriptions())
	assert.Equal(t, 0, backend.checkCalls)
}
