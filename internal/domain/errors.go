package domain

import "errors"

var (
	// ErrInsufficientSignal means the input cannot be analysed; callers must resubmit.
	ErrInsufficientSignal = errors.New("ecgflow: insufficient signal")
	// ErrModelUnavailable is a transient failure of a single model.
	ErrModelUnavailable = errors.New("ecgflow: model unavailable")
	// ErrInferenceTimeout means a single model call ran out of time.
	ErrInferenceTimeout = errors.New("ecgflow: inference timeout")
	// ErrNoModelAvailable is fatal for a job: every model failed.
	ErrNoModelAvailable = errors.New("ecgflow: no model available")
	// ErrBackpressure rejects a submission because the pending queue is full.
	ErrBackpressure = errors.New("ecgflow: backpressure, queue full")
	// ErrSchedulerClosed rejects submissions after shutdown started.
	ErrSchedulerClosed = errors.New("ecgflow: scheduler closed")
)
