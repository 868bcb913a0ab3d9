package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/adapters/queue"
	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

func TestFiftyJobsEachResolveOnce(t *testing.T) {
	runner := &stubRunner{delay: 2 * time.Millisecond}
	sink := &recordingHandler{}
	s := newScheduler(t, runner, 8, 64, sink)
	s.Start()
	defer s.Shutdown(context.Background())

	const n = 50
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Submit(newJob())
			if err != nil {
				errs <- err
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seen := map[string]bool{}
	for _, h := range handles {
		res, err := h.Await(ctx)
		if err != nil {
			t.Fatalf("Await: %v", err)
		}
		if res.JobID != h.ID() {
			t.Fatalf("handle %s got result for %s", h.ID(), res.JobID)
		}
		if seen[res.JobID] {
			t.Fatalf("duplicate result for %s", res.JobID)
		}
		seen[res.JobID] = true
	}
	if got := sink.count(); got != n {
		t.Fatalf("expected %d dispatched results, got %d", n, got)
	}
	if runner.calls.Load() != n {
		t.Fatalf("expected %d runs, got %d", n, runner.calls.Load())
	}
}

func TestJobsUpToPoolSizeStartImmediately(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{block: release}
	s := newScheduler(t, runner, 8, 8, nil)
	s.Start()
	defer s.Shutdown(context.Background())
	defer close(release)

	for i := 0; i < 8; i++ {
		if _, err := s.Submit(newJob()); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitFor(t, 200*time.Millisecond, func() bool { return runner.running.Load() == 8 })
	if s.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d pending", s.Pending())
	}
}

func TestIdleWorkersAbsorbBurstLargerThanQueue(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{block: release}
	s := newScheduler(t, runner, 8, 1, nil)
	s.Start()
	defer s.Shutdown(context.Background())
	defer close(release)

	waitFor(t, time.Second, func() bool { return s.Idle() == 8 })
	// let the last worker reach its select
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 8; i++ {
		if _, err := s.Submit(newJob()); err != nil {
			t.Fatalf("Submit %d into an idle pool: %v", i, err)
		}
	}
	waitFor(t, time.Second, func() bool { return runner.running.Load() == 8 })

	if _, err := s.Submit(newJob()); err != nil {
		t.Fatalf("expected the single queue slot to accept a job: %v", err)
	}
	if _, err := s.Submit(newJob()); !errors.Is(err, domain.ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure once workers and queue are full, got %v", err)
	}
}

func TestBackpressureWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{block: release}
	obs := &mockObs{}
	s, err := New(runner, queue.NewMemQueue(3), 2, nil, obs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()

	var handles []*Handle
	for i := 0; i < 2; i++ {
		h, err := s.Submit(newJob())
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		handles = append(handles, h)
	}
	waitFor(t, time.Second, func() bool { return runner.running.Load() == 2 })

	for i := 0; i < 3; i++ {
		h, err := s.Submit(newJob())
		if err != nil {
			t.Fatalf("Submit %d within bound: %v", i, err)
		}
		handles = append(handles, h)
	}
	_, err = s.Submit(newJob())
	if !errors.Is(err, domain.ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if obs.counter("ecg_jobs_rejected_total") != 1 {
		t.Fatalf("expected rejection to be counted")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range handles {
		if _, err := h.Await(ctx); err != nil {
			t.Fatalf("Await: %v", err)
		}
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestPanickingJobIsIsolated(t *testing.T) {
	runner := &stubRunner{panicOn: "boom"}
	s := newScheduler(t, runner, 2, 8, nil)
	s.Start()
	defer s.Shutdown(context.Background())

	bad := newJob()
	bad.Signal.ExamID = "boom"
	hb, err := s.Submit(bad)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	hg, err := s.Submit(newJob())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := hb.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if res.Reason != domain.ReasonInternalError {
		t.Fatalf("expected INTERNAL_ERROR, got %s", res.Reason)
	}
	res, err = hg.Await(ctx)
	if err != nil || res.Status != domain.StageDone {
		t.Fatalf("healthy job affected: %v %+v", err, res)
	}
}

func TestPanickingResultHandlerIsIsolated(t *testing.T) {
	obs := &mockObs{}
	s, err := New(&stubRunner{}, queue.NewMemQueue(4), 1, panickingHandler{}, obs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		h, err := s.Submit(newJob())
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		res, err := h.Await(ctx)
		if err != nil {
			t.Fatalf("Await: %v", err)
		}
		if res.Status != domain.StageDone {
			t.Fatalf("expected the runner's result on the handle, got %+v", res)
		}
	}
	if got := obs.criticalCount(); got != 2 {
		t.Fatalf("expected each dispatch panic to be logged as critical, got %d", got)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{block: release}
	s := newScheduler(t, runner, 1, 4, nil)
	s.Start()
	defer s.Shutdown(context.Background())

	first, _ := s.Submit(newJob())
	waitFor(t, time.Second, func() bool { return runner.running.Load() == 1 })
	queued, err := s.Submit(newJob())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	queued.Cancel()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := first.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	res, err := queued.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if res.Reason != domain.ReasonTimeout {
		t.Fatalf("expected canceled job to fail with TIMEOUT, got %+v", res)
	}
}

func TestAwaitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	s := newScheduler(t, &stubRunner{block: release}, 1, 1, nil)
	s.Start()
	defer s.Shutdown(context.Background())
	defer close(release)

	h, _ := s.Submit(newJob())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestShutdownDrainsQueueAndRejects(t *testing.T) {
	runner := &stubRunner{delay: 5 * time.Millisecond}
	s := newScheduler(t, runner, 1, 16, nil)
	s.Start()

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := s.Submit(newJob())
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		handles = append(handles, h)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Fatalf("job %s not resolved after shutdown", h.ID())
		}
	}
	if _, err := s.Submit(newJob()); !errors.Is(err, domain.ErrSchedulerClosed) {
		t.Fatalf("expected ErrSchedulerClosed, got %v", err)
	}
}

func TestShutdownDeadlineCancelsRunningJobs(t *testing.T) {
	runner := &stubRunner{honorCtx: true, block: make(chan struct{})}
	s := newScheduler(t, runner, 1, 4, nil)
	s.Start()

	h, _ := s.Submit(newJob())
	waitFor(t, time.Second, func() bool { return runner.running.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	res, err := h.Await(context.Background())
	if err != nil || res.Reason != domain.ReasonTimeout {
		t.Fatalf("expected running job to time out, got %v %+v", err, res)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(&stubRunner{}, queue.NewMemQueue(1), 0, nil, &mockObs{}); err == nil {
		t.Fatalf("expected error for zero pool size")
	}
	if _, err := New(nil, queue.NewMemQueue(1), 1, nil, &mockObs{}); err == nil {
		t.Fatalf("expected error for nil runner")
	}
}

func newScheduler(t *testing.T, r Runner, pool, queueSize int, results ResultHandler) *Scheduler {
	t.Helper()
	s, err := New(r, queue.NewMemQueue(queueSize), pool, results, &mockObs{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func newJob() *domain.AnalysisJob {
	return domain.NewAnalysisJob(domain.SignalSample{SamplingRateHz: 250}, nil, time.Time{})
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", within)
}

// stubRunner mimics the orchestrator's cancellation contract.
type stubRunner struct {
	delay    time.Duration
	block    chan struct{}
	honorCtx bool
	panicOn  string

	calls   atomic.Int32
	running atomic.Int32
}

func (r *stubRunner) Run(ctx context.Context, job *domain.AnalysisJob) domain.DiagnosticResult {
	r.calls.Add(1)
	r.running.Add(1)
	defer r.running.Add(-1)

	res := domain.DiagnosticResult{JobID: job.ID, Status: domain.StageDone, Urgency: domain.UrgencyRoutine}
	timeout := domain.DiagnosticResult{JobID: job.ID, Status: domain.StageFailed, Reason: domain.ReasonTimeout}

	if job.Signal.ExamID != "" && job.Signal.ExamID == r.panicOn {
		panic("model exploded")
	}
	select {
	case <-job.Canceled():
		return timeout
	default:
	}
	if r.block != nil {
		if r.honorCtx {
			select {
			case <-r.block:
			case <-ctx.Done():
				return timeout
			}
		} else {
			<-r.block
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return res
}

type recordingHandler struct {
	mu      sync.Mutex
	results []domain.DiagnosticResult
}

func (h *recordingHandler) Dispatch(_ context.Context, r domain.DiagnosticResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, r)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

type panickingHandler struct{}

func (panickingHandler) Dispatch(context.Context, domain.DiagnosticResult) error {
	panic("sink bug")
}

type mockObs struct {
	mu        sync.Mutex
	counters  map[string]float64
	criticals int
}

func (m *mockObs) LogInfo(string, ...ports.Field)         {}
func (m *mockObs) LogError(string, error, ...ports.Field) {}
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
func (m *mockObs) ObserveLatency(string, float64)       {}
func (m *mockObs) SetGauge(string, float64)             {}
func (m *mockObs) RecordResult(domain.DiagnosticResult) {}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockObs) criticalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.criticals
}
