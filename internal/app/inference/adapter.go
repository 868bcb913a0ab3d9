// Package inference fans a signal window out to the configured models and collects
// their distributions, tolerating individual model failures.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// Failure records a model that was left out of aggregation.
type Failure struct {
	Model domain.ModelRef
	Err   error
}

// Bounded is implemented by models that carry their own call timeout. It replaces the
// adapter-wide timeout for that model.
type Bounded interface {
	CallTimeout() time.Duration
}

type Adapter struct {
	models       []ports.Model
	byID         map[string]ports.Model
	timeout      time.Duration
	retryTimeout time.Duration
	obs          ports.Observability
}

// NewAdapter validates the model set. retryTimeout defaults to half of timeout.
func NewAdapter(models []ports.Model, timeout, retryTimeout time.Duration, obs ports.Observability) (*Adapter, error) {
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}
	if obs == nil {
		return nil, errors.New("observability is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retryTimeout <= 0 || retryTimeout > timeout {
		retryTimeout = timeout / 2
	}

	byID := make(map[string]ports.Model, len(models))
	for _, m := range models {
		if m == nil {
			return nil, errors.New("nil model")
		}
		id := m.Ref().ID
		if id == "" {
			return nil, errors.New("model with empty id")
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate model id %q", id)
		}
		byID[id] = m
	}
	return &Adapter{
		models:       models,
		byID:         byID,
		timeout:      timeout,
		retryTimeout: retryTimeout,
		obs:          obs,
	}, nil
}

// Models lists the configured model builds in call order.
func (a *Adapter) Models() []domain.ModelRef {
	out := make([]domain.ModelRef, len(a.models))
	for i, m := range a.models {
		out[i] = m.Ref()
	}
	return out
}

// Infer scores w with a single model, retrying once with the shorter timeout.
func (a *Adapter) Infer(ctx context.Context, w domain.SignalWindow, modelID string) (domain.ModelScore, error) {
	m, ok := a.byID[modelID]
	if !ok {
		return domain.ModelScore{}, fmt.Errorf("%w: unknown model %q", domain.ErrModelUnavailable, modelID)
	}
	return a.inferWithRetry(ctx, w, m)
}

// InferAll runs every model concurrently. It succeeds in degraded mode as long as one
// model produced a score; otherwise the error wraps domain.ErrNoModelAvailable.
func (a *Adapter) InferAll(ctx context.Context, w domain.SignalWindow) ([]domain.ModelScore, []Failure, error) {
	type outcome struct {
		score domain.ModelScore
		err   error
	}
	outcomes := make([]outcome, len(a.models))

	var wg sync.WaitGroup
	for i, m := range a.models {
		wg.Add(1)
		go func(i int, m ports.Model) {
			defer wg.Done()
			s, err := a.inferWithRetry(ctx, w, m)
			outcomes[i] = outcome{score: s, err: err}
		}(i, m)
	}
	wg.Wait()

	var (
		scores   []domain.ModelScore
		failures []Failure
		errs     []error
	)
	for i, o := range outcomes {
		if o.err != nil {
			failures = append(failures, Failure{Model: a.models[i].Ref(), Err: o.err})
			errs = append(errs, o.err)
			continue
		}
		scores = append(scores, o.score)
	}
	if len(scores) == 0 {
		return nil, failures, fmt.Errorf("%w: %w", domain.ErrNoModelAvailable, errors.Join(errs...))
	}
	return scores, failures, nil
}

func (a *Adapter) inferWithRetry(ctx context.Context, w domain.SignalWindow, m ports.Model) (domain.ModelScore, error) {
	start := time.Now()
	ref := m.Ref()

	timeout, retryTimeout := a.timeoutsFor(m)
	score, err := a.call(ctx, w, m, timeout)
	if err != nil && ctx.Err() == nil {
		a.obs.IncCounter("ecg_model_retries_total", 1)
		a.obs.LogInfo("model_retry",
			ports.Field{Key: "model", Value: ref.String()},
			ports.Field{Key: "error", Value: err.Error()})
		score, err = a.call(ctx, w, m, retryTimeout)
	}
	a.obs.ObserveLatency("ecg_inference_latency_seconds", time.Since(start).Seconds())

	if err != nil {
		a.obs.IncCounter("ecg_model_failures_total", 1)
		a.obs.LogError("model_failed", err, ports.Field{Key: "model", Value: ref.String()})
		return domain.ModelScore{}, err
	}
	return score, nil
}

// timeoutsFor resolves the first-call and retry bounds for m. The retry never gets
// more time than the first call.
func (a *Adapter) timeoutsFor(m ports.Model) (time.Duration, time.Duration) {
	timeout, retry := a.timeout, a.retryTimeout
	if b, ok := m.(Bounded); ok && b.CallTimeout() > 0 {
		timeout = b.CallTimeout()
	}
	if retry > timeout {
		retry = timeout / 2
	}
	return timeout, retry
}

// call bounds one model invocation. The result is abandoned when the deadline passes,
// even if the model ignores its context.
func (a *Adapter) call(ctx context.Context, w domain.SignalWindow, m ports.Model, timeout time.Duration) (domain.ModelScore, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		score domain.ModelScore
		err   error
	}
	ch := make(chan outcome, 1)
	ref := m.Ref()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("%w: %s panicked: %v", domain.ErrModelUnavailable, ref, r)}
			}
		}()
		s, err := m.Infer(cctx, w)
		ch <- outcome{score: s, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return domain.ModelScore{}, classify(cctx, ref, o.err)
		}
		return sanitize(ref, o.score)
	case <-cctx.Done():
		return domain.ModelScore{}, fmt.Errorf("%w: %s after %s", domain.ErrInferenceTimeout, ref, timeout)
	}
}

func classify(ctx context.Context, ref domain.ModelRef, err error) error {
	switch {
	case errors.Is(err, domain.ErrInferenceTimeout), errors.Is(err, domain.ErrModelUnavailable):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %v", domain.ErrInferenceTimeout, ref, err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrModelUnavailable, ref, err)
	}
}

// sanitize clamps probabilities into [0,1] and drops non-finite entries.
func sanitize(ref domain.ModelRef, s domain.ModelScore) (domain.ModelScore, error) {
	if s.Model.ID == "" {
		s.Model = ref
	}
	if s.Model.Capability == "" {
		s.Model.Capability = ref.Capability
	}
	probs := make(map[domain.Label]float64, len(s.Probabilities))
	for label, p := range s.Probabilities {
		if label == "" || math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		probs[label] = math.Min(1, math.Max(0, p))
	}
	if len(probs) == 0 {
		return domain.ModelScore{}, fmt.Errorf("%w: %s returned an empty distribution", domain.ErrModelUnavailable, ref)
	}
	s.Probabilities = probs
	return s, nil
}
