package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AnalysisJob is the unit of concurrent work. It exclusively owns its signal until the
// DiagnosticResult is emitted.
type AnalysisJob struct {
	ID          string
	Signal      SignalSample
	Context     *ClinicalContext
	Deadline    time.Time
	SubmittedAt time.Time

	initOnce   sync.Once
	cancelOnce sync.Once
	canceled   chan struct{}
}

// NewAnalysisJob stamps a fresh job ID. A zero deadline means "use the pipeline budget".
func NewAnalysisJob(signal SignalSample, clinical *ClinicalContext, deadline time.Time) *AnalysisJob {
	return &AnalysisJob{
		ID:          uuid.NewString(),
		Signal:      signal,
		Context:     clinical,
		Deadline:    deadline,
		SubmittedAt: time.Now(),
		canceled:    make(chan struct{}),
	}
}

// Cancel signals the job's cancellation token. Safe to call more than once.
func (j *AnalysisJob) Cancel() {
	j.Canceled()
	j.cancelOnce.Do(func() { close(j.canceled) })
}

// Canceled is closed once Cancel has been called.
func (j *AnalysisJob) Canceled() <-chan struct{} {
	j.initOnce.Do(func() {
		if j.canceled == nil {
			j.canceled = make(chan struct{})
		}
	})
	return j.canceled
}
