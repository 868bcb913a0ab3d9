// Package scheduler runs analysis jobs on a fixed-size worker pool fed by a bounded
// queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// Runner executes one job and always returns its result.
type Runner interface {
	Run(ctx context.Context, job *domain.AnalysisJob) domain.DiagnosticResult
}

// ResultHandler receives every result before its handle resolves.
type ResultHandler interface {
	Dispatch(ctx context.Context, r domain.DiagnosticResult) error
}

// Handle resolves to the result of one submitted job.
type Handle struct {
	job  *domain.AnalysisJob
	done chan struct{}
	res  domain.DiagnosticResult
}

func (h *Handle) ID() string { return h.job.ID }

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel signals the job's cancellation token. A queued job fails with TIMEOUT as soon
// as a worker picks it up.
func (h *Handle) Cancel() { h.job.Cancel() }

// Await blocks until the job finishes or ctx is done. Giving up on Await does not
// cancel the job.
func (h *Handle) Await(ctx context.Context) (domain.DiagnosticResult, error) {
	select {
	case <-h.done:
		return h.res, nil
	case <-ctx.Done():
		return domain.DiagnosticResult{}, ctx.Err()
	}
}

type Scheduler struct {
	runner   Runner
	queue    ports.JobQueue
	results  ResultHandler
	obs      ports.Observability
	poolSize int

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
	started bool

	// handoff passes a job straight to an idle worker, so a burst of up to poolSize
	// jobs never counts against the queue bound.
	handoff  chan *domain.AnalysisJob
	wake     chan struct{}
	quit     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Int64
	idle     atomic.Int64
}

// New builds an idle scheduler; call Start to launch the workers. results may be nil.
func New(runner Runner, q ports.JobQueue, poolSize int, results ResultHandler, obs ports.Observability) (*Scheduler, error) {
	if runner == nil || q == nil || obs == nil {
		return nil, errors.New("scheduler: runner, queue and observability are required")
	}
	if poolSize <= 0 {
		return nil, fmt.Errorf("scheduler: pool size must be > 0, got %d", poolSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		queue:    q,
		results:  results,
		obs:      obs,
		poolSize: poolSize,
		handles:  make(map[string]*Handle),
		handoff:  make(chan *domain.AnalysisJob),
		wake:     make(chan struct{}, poolSize),
		quit:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	for i := 0; i < s.poolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Submit hands job to an idle worker or queues it. It fails with domain.ErrBackpressure
// when every worker is busy and the queue is full, and with domain.ErrSchedulerClosed
// after Shutdown.
func (s *Scheduler) Submit(job *domain.AnalysisJob) (*Handle, error) {
	if job == nil {
		return nil, errors.New("scheduler: nil job")
	}
	h := &Handle{job: job, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSchedulerClosed
	}
	if _, dup := s.handles[job.ID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler: job %s already submitted", job.ID)
	}
	// Registered before the handoff: execute looks the handle up under s.mu.
	s.handles[job.ID] = h
	if s.queue.Len() == 0 {
		select {
		case s.handoff <- job:
			s.mu.Unlock()
			s.obs.IncCounter("ecg_jobs_submitted_total", 1)
			return h, nil
		default:
		}
	}
	if !s.queue.Enqueue(job) {
		delete(s.handles, job.ID)
		s.mu.Unlock()
		s.obs.IncCounter("ecg_jobs_rejected_total", 1)
		return nil, fmt.Errorf("%w: capacity reached with %d pending", domain.ErrBackpressure, s.queue.Len())
	}
	s.mu.Unlock()

	s.obs.IncCounter("ecg_jobs_submitted_total", 1)
	s.obs.SetGauge("ecg_queue_length", float64(s.queue.Len()))

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return h, nil
}

// Pending is the number of jobs not yet picked up by a worker.
func (s *Scheduler) Pending() int { return s.queue.Len() }

// InFlight is the number of jobs currently executing.
func (s *Scheduler) InFlight() int { return int(s.inFlight.Load()) }

// Idle is the number of workers waiting for a job.
func (s *Scheduler) Idle() int { return int(s.idle.Load()) }

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		job, ok := s.queue.Dequeue()
		if !ok {
			s.idle.Add(1)
			select {
			case job = <-s.handoff:
				s.idle.Add(-1)
			case <-s.wake:
				s.idle.Add(-1)
				continue
			case <-s.quit:
				s.idle.Add(-1)
				// drain anything enqueued before close
				if job, ok = s.queue.Dequeue(); !ok {
					return
				}
			}
		}
		s.execute(job)
	}
}

func (s *Scheduler) execute(job *domain.AnalysisJob) {
	s.obs.SetGauge("ecg_queue_length", float64(s.queue.Len()))
	s.obs.SetGauge("ecg_jobs_in_flight", float64(s.inFlight.Add(1)))
	defer func() {
		s.obs.SetGauge("ecg_jobs_in_flight", float64(s.inFlight.Add(-1)))
	}()

	res := s.run(job)
	s.dispatch(res)

	s.mu.Lock()
	h := s.handles[job.ID]
	delete(s.handles, job.ID)
	s.mu.Unlock()

	if h != nil {
		h.res = res
		close(h.done)
	}
}

// dispatch delivers res to the result handler. A panicking collaborator is logged and
// the job's handle still resolves.
func (s *Scheduler) dispatch(res domain.DiagnosticResult) {
	if s.results == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.obs.LogCritical("result_dispatch_panic", fmt.Errorf("%v", p), ports.Field{Key: "job_id", Value: res.JobID})
		}
	}()
	// results are delivered even while shutting down
	if err := s.results.Dispatch(context.WithoutCancel(s.ctx), res); err != nil {
		s.obs.LogError("result_dispatch_failed", err, ports.Field{Key: "job_id", Value: res.JobID})
	}
}

// run isolates the pool from a misbehaving runner.
func (s *Scheduler) run(job *domain.AnalysisJob) (res domain.DiagnosticResult) {
	defer func() {
		if p := recover(); p != nil {
			s.obs.LogCritical("runner_panic", fmt.Errorf("%v", p), ports.Field{Key: "job_id", Value: job.ID})
			now := time.Now()
			res = domain.DiagnosticResult{
				JobID:       job.ID,
				PatientID:   job.Signal.PatientID,
				ExamID:      job.Signal.ExamID,
				Status:      domain.StageFailed,
				FailedStage: domain.StagePending,
				Reason:      domain.ReasonInternalError,
				Message:     fmt.Sprintf("panic: %v", p),
				Latency:     now.Sub(job.SubmittedAt),
				CompletedAt: now,
				Trace:       []domain.StageEvent{{Stage: domain.StageFailed, At: now}},
			}
		}
	}()
	return s.runner.Run(s.ctx, job)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to finish. When
// ctx expires first, remaining jobs are canceled and fail with TIMEOUT.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()
	close(s.quit)

	if !started {
		s.cancel()
		s.drainUnstarted()
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// drainUnstarted resolves jobs submitted to a scheduler that never started.
func (s *Scheduler) drainUnstarted() {
	for {
		job, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		s.execute(job)
	}
}
