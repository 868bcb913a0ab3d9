package ecgflow

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

type stubCollector struct {
	subs    []*Submission
	mu      sync.Mutex
	stopped bool
}

func (s *stubCollector) Start(out chan<- *Submission) error {
	go func() {
		for _, sub := range s.subs {
			out <- sub
		}
	}()
	return nil
}

func (s *stubCollector) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *stubCollector) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type stubSink struct{}

func (s *stubSink) OnResult(context.Context, DiagnosticResult) error { return nil }
func (s *stubSink) Name() string                                     { return "stub" }

type stubQueue struct{}

func (s *stubQueue) Enqueue(*domain.AnalysisJob) bool     { return true }
func (s *stubQueue) Dequeue() (*domain.AnalysisJob, bool) { return nil, false }
func (s *stubQueue) Len() int                             { return 0 }

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)            {}
func (s *stubObservability) LogError(string, error, ...Field)    {}
func (s *stubObservability) LogCritical(string, error, ...Field) {}
func (s *stubObservability) IncCounter(string, float64)          {}
func (s *stubObservability) ObserveLatency(string, float64)      {}
func (s *stubObservability) SetGauge(string, float64)            {}
func (s *stubObservability) RecordResult(DiagnosticResult)       {}

type fixedModel struct {
	id    string
	probs map[Label]float64
}

func (m fixedModel) Ref() ModelRef {
	return ModelRef{ID: m.id, Version: "test", Capability: domain.CapabilityAcuteEvent}
}

func (m fixedModel) Infer(context.Context, SignalWindow) (ModelScore, error) {
	probs := make(map[Label]float64, len(m.probs))
	for k, v := range m.probs {
		probs[k] = v
	}
	return ModelScore{Model: m.Ref(), Probabilities: probs}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
