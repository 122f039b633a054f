package domain

import (
	"fmt"
	"sync"
)

// JobState represents the lifecycle state of a server-side job
type JobState string

const (
	JobSubmitting JobState = "submitting"
	JobStreaming  JobState = "streaming"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// IsTerminal checks if the state is final
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// jobTransitions is the allowed transition table
var jobTransitions = map[JobState][]JobState{
	JobSubmitting: {JobStreaming, JobFailed},
	JobStreaming:  {JobCompleted, JobFailed},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to JobState) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ProgressTracker clamps a percentage stream so observers never see it decrease.
// Restart resets the baseline.
type ProgressTracker struct {
	mu   sync.Mutex
	last float64
	seen bool
}

// Observe clamps p to [0,100] and to the last observed value, returning what to surface
func (t *ProgressTracker) Observe(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	p = ClampPercent(p)
	if t.seen && p < t.last {
		return t.last
	}
	t.last = p
	t.seen = true
	return p
}

// Last returns the last surfaced value
func (t *ProgressTracker) Last() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Restart resets the monotonicity baseline
func (t *ProgressTracker) Restart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = 0
	t.seen = false
}

// ClampPercent limits a percentage to [0,100]
func ClampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Job is the local view of a server-side conversion job
type Job struct {
	ID             string
	State          JobState
	LastPercentage float64
	LastMessage    string

	mu       sync.Mutex
	progress ProgressTracker
}

// NewJob creates a job in the Submitting state
func NewJob() *Job {
	return &Job{State: JobSubmitting}
}

// Accept records the backend job identifier and moves to Streaming
func (j *Job) Accept(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(JobStreaming); err != nil {
		return err
	}
	j.ID = id
	return nil
}

// ApplyProgress records an inbound message and returns the clamped percentage
func (j *Job) ApplyProgress(percentage float64, message string) float64 {
	surfaced := j.progress.Observe(percentage)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.LastPercentage = surfaced
	if message != "" {
		j.LastMessage = message
	}
	return surfaced
}

// Complete moves the job to Completed
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transition(JobCompleted)
}

// Fail moves the job to Failed
func (j *Job) Fail(message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if message != "" {
		j.LastMessage = message
	}
	return j.transition(JobFailed)
}

// Restart resets the job for a resubmission; the percentage baseline starts over
func (j *Job) Restart() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ID = ""
	j.State = JobSubmitting
	j.LastPercentage = 0
	j.LastMessage = ""
	j.progress.Restart()
}

// Snapshot returns the current state under lock
func (j *Job) Snapshot() (JobState, float64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.State, j.LastPercentage, j.LastMessage
}

func (j *Job) transition(to JobState) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("invalid job transition: %s -> %s", j.State, to)
	}
	j.State = to
	return nil
}
