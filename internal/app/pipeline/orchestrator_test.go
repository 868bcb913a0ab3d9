package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/adapters/model"
	"github.com/drguilhermecapel/ecgflow/internal/app/aggregate"
	"github.com/drguilhermecapel/ecgflow/internal/app/correlate"
	"github.com/drguilhermecapel/ecgflow/internal/app/inference"
	"github.com/drguilhermecapel/ecgflow/internal/app/quality"
	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
	"github.com/drguilhermecapel/ecgflow/internal/synth"
)

func TestRunFlatlineIsBadSignal(t *testing.T) {
	obs := &mockObs{}
	o := newOrchestrator(t, obs, time.Second, fixedModel("m1", map[domain.Label]float64{domain.LabelNormal: 1}))
	job := domain.NewAnalysisJob(synth.Flatline(10*time.Second, 250), nil, time.Time{})

	res := o.Run(context.Background(), job)
	if res.Status != domain.StageFailed || res.Reason != domain.ReasonBadSignal {
		t.Fatalf("expected FAILED/BAD_SIGNAL, got %s/%s", res.Status, res.Reason)
	}
	if res.FailedStage != domain.StageQualityChecked {
		t.Fatalf("expected quality stage to be reported, got %s", res.FailedStage)
	}
	if res.Urgency != domain.UrgencyUnset || res.Label != "" {
		t.Fatalf("failed result must not carry a diagnosis: %+v", res)
	}
	assertTrace(t, res, domain.StagePending, domain.StageFailed)
	if len(obs.results) != 1 {
		t.Fatalf("expected the result to be recorded once, got %d", len(obs.results))
	}
}

func TestRunStemiIsCritical(t *testing.T) {
	o := newOrchestrator(t, &mockObs{}, time.Second,
		fixedModel("m1", map[domain.Label]float64{domain.LabelSTEMI: 0.92}),
		fixedModel("m2", map[domain.Label]float64{domain.LabelSTEMI: 0.88, domain.LabelNormal: 0.4}),
	)
	job := domain.NewAnalysisJob(synth.Signal(synth.Params{}), nil, time.Time{})

	res := o.Run(context.Background(), job)
	if res.Status != domain.StageDone {
		t.Fatalf("expected DONE, got %s (%s)", res.Status, res.Message)
	}
	if res.Label != domain.LabelSTEMI || math.Abs(res.Confidence-0.9) > 1e-9 {
		t.Fatalf("unexpected diagnosis %s %.3f", res.Label, res.Confidence)
	}
	if !res.Critical() {
		t.Fatalf("expected CRITICAL, got %s", res.Urgency)
	}
	if res.DeterminingStage != domain.StageAggregated {
		t.Fatalf("expected aggregation to determine urgency, got %s", res.DeterminingStage)
	}
	if res.JobID != job.ID || len(res.Models) != 2 || res.Degraded {
		t.Fatalf("unexpected result metadata %+v", res)
	}
	assertTrace(t, res,
		domain.StagePending, domain.StageQualityChecked, domain.StageScored,
		domain.StageAggregated, domain.StageCorrelated, domain.StageDone)
}

func TestRunBuiltinModelsOnSyntheticStemi(t *testing.T) {
	var models []ports.Model
	for _, name := range []string{"rhythm", "anomaly", "acute_event"} {
		m, err := model.NewBuiltin(name, "", "")
		if err != nil {
			t.Fatalf("NewBuiltin(%s): %v", name, err)
		}
		models = append(models, m)
	}
	o := newOrchestrator(t, &mockObs{}, 5*time.Second, models...)
	job := domain.NewAnalysisJob(synth.Signal(synth.Params{STElevation: 0.3}), nil, time.Time{})

	res := o.Run(context.Background(), job)
	if res.Label != domain.LabelSTEMI || res.Urgency != domain.UrgencyCritical {
		t.Fatalf("expected CRITICAL stemi, got %s %s (%s)", res.Label, res.Urgency, res.Message)
	}
}

func TestRunEscalationDeterminesUrgency(t *testing.T) {
	o := newOrchestrator(t, &mockObs{}, time.Second,
		fixedModel("m1", map[domain.Label]float64{domain.LabelAtrialFibrillation: 0.7, domain.LabelNormal: 0.3}),
	)
	clinical := &domain.ClinicalContext{History: []domain.HistoryFlag{domain.HistoryHeartFailure}}
	job := domain.NewAnalysisJob(synth.Signal(synth.Params{}), clinical, time.Time{})

	res := o.Run(context.Background(), job)
	if res.Urgency != domain.UrgencyUrgent || res.DeterminingStage != domain.StageCorrelated {
		t.Fatalf("expected URGENT from correlation, got %s via %s", res.Urgency, res.DeterminingStage)
	}
	if len(res.EscalationRules) != 1 || res.EscalationRules[0] != "high_risk_history" {
		t.Fatalf("unexpected rules %v", res.EscalationRules)
	}
}

func TestRunAllModelsFail(t *testing.T) {
	o := newOrchestrator(t, &mockObs{}, time.Second,
		failingModel("a", domain.ErrModelUnavailable),
		failingModel("b", domain.ErrInferenceTimeout),
	)
	res := o.Run(context.Background(), domain.NewAnalysisJob(synth.Signal(synth.Params{}), nil, time.Time{}))
	if res.Reason != domain.ReasonModelFailure || res.FailedStage != domain.StageScored {
		t.Fatalf("expected MODEL_FAILURE at SCORED, got %s at %s", res.Reason, res.FailedStage)
	}
}

func TestRunDegradedMode(t *testing.T) {
	o := newOrchestrator(t, &mockObs{}, time.Second,
		fixedModel("ok", map[domain.Label]float64{domain.LabelNormal: 0.9}),
		failingModel("down", domain.ErrModelUnavailable),
	)
	res := o.Run(context.Background(), domain.NewAnalysisJob(synth.Signal(synth.Params{}), nil, time.Time{}))
	if res.Status != domain.StageDone || !res.Degraded {
		t.Fatalf("expected degraded DONE, got %s degraded=%v", res.Status, res.Degraded)
	}
	if len(res.Models) != 1 || res.Models[0].ID != "ok" {
		t.Fatalf("expected only the surviving model, got %+v", res.Models)
	}
}

func TestRunDeadlineIsTimeout(t *testing.T) {
	o := newOrchestrator(t, &mockObs{}, time.Second, blockingModel("slow"))
	job := domain.NewAnalysisJob(synth.Signal(synth.Params{}), nil, time.Now().Add(50*time.Millisecond))

	start := time.Now()
	res := o.Run(context.Background(), job)
	if res.Reason != domain.ReasonTimeout || res.FailedStage != domain.StageScored {
		t.Fatalf("expected TIMEOUT at SCORED, got %s at %s", res.Reason, res.FailedStage)
	}
	if res.Message != "deadline exceeded" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("deadline not enforced, took %s", time.Since(start))
	}
}

func TestRunBudgetCapsLateDeadline(t *testing.T) {
	obs := &mockObs{}
	g := quality.NewGate(quality.Config{})
	inf, err := inference.NewAdapter([]ports.Model{blockingModel("slow")}, time.Second, 0, obs)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	o := newOrchestratorWith(t, g, inf, 40*time.Millisecond, obs)
	job := domain.NewAnalysisJob(synth.Signal(synth.Params{}), nil, time.Now().Add(time.Hour))

	if res := o.Run(context.Background(), job); res.Reason != domain.ReasonTimeout {
		t.Fatalf("expected budget to cap the deadline, got %s", res.Reason)
	}
}

func TestRunCancellation(t *testing.T) {
	o := newOrchestrator(t, &mockObs{}, time.Second, blockingModel("slow"))
	job := domain.NewAnalysisJob(synth.Signal(synth.Params{}), nil, time.Time{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		job.Cancel()
	}()
	res := o.Run(context.Background(), job)
	if res.Reason != domain.ReasonTimeout || res.Message != "job canceled" {
		t.Fatalf("expected canceled TIMEOUT, got %s %q", res.Reason, res.Message)
	}
}

func TestRunConcurrentJobsWithCancellation(t *testing.T) {
	obs := &mockObs{}
	o := newOrchestrator(t, obs, time.Second,
		fixedModel("m1", map[domain.Label]float64{domain.LabelNormal: 0.9}),
		blockingModel("slow"))
	sig := synth.Signal(synth.Params{})

	const n = 16
	var wg sync.WaitGroup
	results := make([]domain.DiagnosticResult, n)
	for i := 0; i < n; i++ {
		job := domain.NewAnalysisJob(sig, nil, time.Time{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			job.Cancel()
		}()
		go func(i int) {
			defer wg.Done()
			results[i] = o.Run(context.Background(), job)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.Reason != domain.ReasonTimeout {
			t.Fatalf("job %d: expected TIMEOUT after cancel, got %s/%s", i, res.Status, res.Reason)
		}
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.results) != n {
		t.Fatalf("expected %d recorded results, got %d", n, len(obs.results))
	}
}

func TestRunRecoversPanics(t *testing.T) {
	obs := &mockObs{}
	inf, err := inference.NewAdapter([]ports.Model{fixedModel("m", map[domain.Label]float64{domain.LabelNormal: 1})}, time.Second, 0, obs)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	corr, _ := correlate.NewEngine(correlate.Config{}, nil)
	o, err := NewOrchestrator(quality.NewGate(quality.Config{}), inf, panickingAggregator{}, corr, time.Second, obs)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	res := o.Run(context.Background(), domain.NewAnalysisJob(synth.Signal(synth.Params{}), nil, time.Time{}))
	if res.Reason != domain.ReasonInternalError || res.FailedStage != domain.StageAggregated {
		t.Fatalf("expected INTERNAL_ERROR at AGGREGATED, got %s at %s", res.Reason, res.FailedStage)
	}
	if !strings.Contains(res.Message, "panic") {
		t.Fatalf("expected panic message, got %q", res.Message)
	}
	if obs.criticals != 1 {
		t.Fatalf("expected the panic to be logged as critical")
	}
}

func newOrchestrator(t *testing.T, obs *mockObs, modelTimeout time.Duration, models ...ports.Model) *Orchestrator {
	t.Helper()
	inf, err := inference.NewAdapter(models, modelTimeout, 0, obs)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return newOrchestratorWith(t, quality.NewGate(quality.Config{}), inf, DefaultJobBudget, obs)
}

func newOrchestratorWith(t *testing.T, g QualityGate, inf Inferencer, budget time.Duration, obs *mockObs) *Orchestrator {
	t.Helper()
	agg, err := aggregate.New(nil)
	if err != nil {
		t.Fatalf("aggregate.New: %v", err)
	}
	corr, err := correlate.NewEngine(correlate.Config{}, nil)
	if err != nil {
		t.Fatalf("correlate.NewEngine: %v", err)
	}
	o, err := NewOrchestrator(g, inf, agg, corr, budget, obs)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func assertTrace(t *testing.T, res domain.DiagnosticResult, want ...domain.Stage) {
	t.Helper()
	if len(res.Trace) != len(want) {
		t.Fatalf("expected trace %v, got %+v", want, res.Trace)
	}
	for i, st := range want {
		if res.Trace[i].Stage != st {
			t.Fatalf("trace[%d] = %s, want %s", i, res.Trace[i].Stage, st)
		}
	}
}

func fixedModel(id string, probs map[domain.Label]float64) model.Func {
	return model.Func{
		Model: domain.ModelRef{ID: id, Version: "t"},
		Score: func(context.Context, domain.SignalWindow) (map[domain.Label]float64, error) {
			out := make(map[domain.Label]float64, len(probs))
			for k, v := range probs {
				out[k] = v
			}
			return out, nil
		},
	}
}

func failingModel(id string, err error) model.Func {
	return model.Func{
		Model: domain.ModelRef{ID: id},
		Score: func(context.Context, domain.SignalWindow) (map[domain.Label]float64, error) {
			return nil, err
		},
	}
}

func blockingModel(id string) model.Func {
	return model.Func{
		Model: domain.ModelRef{ID: id},
		Score: func(ctx context.Context, _ domain.SignalWindow) (map[domain.Label]float64, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

type panickingAggregator struct{}

func (panickingAggregator) Aggregate([]domain.ModelScore) (domain.AggregatedDiagnosis, error) {
	panic("weights corrupted")
}

type mockObs struct {
	mu        sync.Mutex
	errors    []error
	counters  map[string]float64
	gauges    map[string]float64
	results   []domain.DiagnosticResult
	criticals int
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criticals++
}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = map[string]float64{}
	}
	m.gauges[name] = v
}
func (m *mockObs) RecordResult(r domain.DiagnosticResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

var errTest = errors.New("test error")
