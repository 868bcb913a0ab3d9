package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// SubmitFunc hands a job to the scheduler without waiting for its result.
type SubmitFunc func(job *domain.AnalysisJob) error

// RunIngest feeds collector submissions to submit until ctx is done. Results are delivered
// through the scheduler's dispatcher, not here. The returned channel is closed once the
// collector has been stopped.
func RunIngest(ctx context.Context, col ports.Collector, submit SubmitFunc, pol ports.Policy, obs ports.Observability) (<-chan struct{}, error) {
	size := pol.QueueSize
	if size <= 0 {
		size = 64
	}
	ch := make(chan *ports.Submission, size)

	if err := col.Start(ch); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if err := col.Stop(); err != nil {
				obs.LogError("collector_stop_failed", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-ch:
				if !ok {
					return
				}
				if s == nil {
					continue
				}
				job := domain.NewAnalysisJob(s.Signal, s.Context, s.Deadline)
				if !submitWithPolicy(ctx, submit, job, pol, obs) {
					obs.IncCounter("ecg_ingest_dropped_total", 1)
				}
			}
		}
	}()

	return done, nil
}

func submitWithPolicy(ctx context.Context, submit SubmitFunc, job *domain.AnalysisJob, pol ports.Policy, obs ports.Observability) bool {
	backoff := pol.RetryBackoff
	if backoff <= 0 {
		backoff = 5 * time.Millisecond
	}

	for {
		err := submit(job)
		if err == nil {
			obs.LogInfo("job_submitted",
				ports.Field{Key: "job_id", Value: job.ID},
				ports.Field{Key: "exam_id", Value: job.Signal.ExamID})
			return true
		}
		if !errors.Is(err, domain.ErrBackpressure) {
			obs.LogError("submit_failed", err, ports.Field{Key: "exam_id", Value: job.Signal.ExamID})
			return false
		}

		switch pol.OnBackpressure {
		case "retry":
			if !job.Deadline.IsZero() && time.Now().Add(backoff).After(job.Deadline) {
				obs.LogError("backpressure_deadline_drop", fmt.Errorf("exam %s: %w", job.Signal.ExamID, err))
				return false
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
		case "drop", "":
			obs.LogError("backpressure_drop", err, ports.Field{Key: "exam_id", Value: job.Signal.ExamID})
			return false
		default:
			obs.LogError("backpressure_policy_invalid", fmt.Errorf("policy=%s", pol.OnBackpressure))
			return false
		}
	}
}
