package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTracker_NeverDecreases(t *testing.T) {
	var tracker ProgressTracker

	surfaced := []float64{}
	for _, p := range []float64{10, 5, 40, 100} {
		surfaced = append(surfaced, tracker.Observe(p))
	}

	assert.Equal(t, []float64{10, 10, 40, 100}, surfaced)
	assert.Equal(t, float64(100), tracker.Last())
}

func TestProgressTracker_Clamps(t *testing.T) {
	var tracker ProgressTracker

	assert.Equal(t, float64(0), tracker.Observe(-5))
	assert.Equal(t, float64(100), tracker.Observe(250))
}

// Assumes the first message after a resubmission resets the baseline.
func TestProgressTracker_RestartResetsBaseline(t *testing.T) {
	var tracker ProgressTracker
	tracker.Observe(80)

	tracker.Restart()

	assert.Equal(t, float64(5), tracker.Observe(5))
	assert.Equal(t, float64(5), tracker.Observe(3))
}

func TestJob_Lifecycle(t *testing.T) {
	job := NewJob()
	state, _, _ := job.Snapshot()
	assert.Equal(t, JobSubmitting, state)

	require.NoError(t, job.Accept("task-1"))
	assert.Equal(t, "task-1", job.ID)

	assert.Equal(t, float64(10), job.ApplyProgress(10, "downloading"))
	assert.Equal(t, float64(10), job.ApplyProgress(5, ""))

	require.NoError(t, job.Complete())
	state, pct, msg := job.Snapshot()
	assert.Equal(t, JobCompleted, state)
	assert.Equal(t, float64(10), pct)
	assert.Equal(t, "downloading", msg)
	assert.True(t, state.IsTerminal())
}

func TestJob_InvalidTransitions(t *testing.T) {
	job := NewJob()

	assert.Error(t, job.Complete())

	require.NoError(t, job.Fail("rejected"))
	assert.Error(t, job.Accept("late"))
	assert.Error(t, job.Fail("again"))

	assert.True(t, CanTransition(JobSubmitting, JobStreaming))
	assert.True(t, CanTransition(JobStreaming, JobFailed))
	assert.False(t, CanTransition(JobCompleted, JobStreaming))
}

func TestJob_Restart(t *testing.T) {
	job := NewJob()
	require.NoError(t, job.Accept("task-1"))
	job.ApplyProgress(70, "")

	job.Restart()

	state, pct, _ := job.Snapshot()
	assert.Equal(t, JobSubmitting, state)
	assert.Equal(t, float64(0), pct)
	assert.Empty(t, job.ID)
	require.NoError(t, job.Accept("task-2"))
	assert.Equal(t, float64(20), job.ApplyProgress(20, ""))
}
