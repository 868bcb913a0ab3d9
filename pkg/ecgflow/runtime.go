package ecgflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drguilhermecapel/ecgflow/internal/adapters/journal"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/model"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/mqtt"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/observability"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/queue"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/sink"
	"github.com/drguilhermecapel/ecgflow/internal/app/aggregate"
	"github.com/drguilhermecapel/ecgflow/internal/app/correlate"
	"github.com/drguilhermecapel/ecgflow/internal/app/dispatch"
	"github.com/drguilhermecapel/ecgflow/internal/app/inference"
	"github.com/drguilhermecapel/ecgflow/internal/app/pipeline"
	"github.com/drguilhermecapel/ecgflow/internal/app/quality"
	"github.com/drguilhermecapel/ecgflow/internal/app/scheduler"
	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     Collector
	sinks         []ResultSink
	alerts        AlertDispatcher
	queue         JobQueue
	models        []Model
	observability Observability
	logger        *slog.Logger
}

// WithCollector injects a signal source (device gateway, simulator, file replay).
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.collector = col
	}
}

// WithSink adds a result sink. Any sink given this way replaces the PostgreSQL and log
// sinks built from config; the journal stays unless disabled.
func WithSink(s ResultSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithAlertDispatcher replaces the MQTT alert publisher.
func WithAlertDispatcher(a AlertDispatcher) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.alerts = a
	}
}

// WithQueue injects a custom pending-job queue. It must honour its own bound.
func WithQueue(q JobQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithModels replaces the models declared in config.
func WithModels(models ...Model) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.models = append(o.models, models...)
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger replaces the process logger built from config.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// Runtime wires collector → scheduler → orchestrator → dispatcher → sinks and exposes
// lifecycle hooks for embedding the analyzer inside any Go service.
type Runtime struct {
	cfg       *Config
	obs       ports.Observability
	logger    *slog.Logger
	registry  *prometheus.Registry
	queue     ports.JobQueue
	scheduler *scheduler.Scheduler
	collector ports.Collector
	sink      ports.ResultSink
	alerts    ports.AlertDispatcher
	journal   *journal.FileJournal
	db        *sql.DB
	results   *sink.PostgresSink

	closers       []func() error
	traceShutdown func(context.Context) error

	metricsSrv   *http.Server
	gaugeStopCh  chan struct{}
	gaugeWG      sync.WaitGroup
	ingestCancel context.CancelFunc
	ingestDoneCh <-chan struct{}

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRuntime bootstraps the default adapters from cfg (built-in or remote models,
// PostgreSQL result store, file journal, MQTT ingestion and alerts, Prometheus metrics).
// RuntimeOption values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			rt.closeResources()
		}
	}()

	rt.logger = overrides.logger
	if rt.logger == nil {
		rt.logger = observability.NewLogger(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	}
	rt.obs = overrides.observability
	if rt.obs == nil {
		rt.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rt.obs = observability.NewPromObs(rt.registry, rt.logger)
	}

	shutdown, err := observability.InitTracing(context.Background(), "ecgflow", cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.traceShutdown = shutdown

	orch, err := rt.buildOrchestrator(overrides.models)
	if err != nil {
		return nil, err
	}

	rt.queue = overrides.queue
	if rt.queue == nil {
		rt.queue = newQueue(cfg.Policy)
	}

	if rt.sink, err = rt.buildSinks(overrides.sinks); err != nil {
		return nil, err
	}

	switch {
	case overrides.alerts != nil:
		rt.alerts = overrides.alerts
	case cfg.MQTT.Enabled():
		pub, err := mqtt.NewAlertPublisher(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("alert publisher: %w", err)
		}
		rt.alerts = pub
		rt.closers = append(rt.closers, pub.Close)
	}

	switch {
	case overrides.collector != nil:
		rt.collector = overrides.collector
	case cfg.MQTT.Enabled():
		col, err := mqtt.NewCollector(cfg.MQTT, rt.obs)
		if err != nil {
			return nil, fmt.Errorf("collector: %w", err)
		}
		rt.collector = col
	}

	disp, err := dispatch.New(rt.sink, rt.alerts, rt.obs)
	if err != nil {
		return nil, err
	}
	rt.scheduler, err = scheduler.New(orch, rt.queue, cfg.Policy.PoolSize, disp, rt.obs)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) buildOrchestrator(models []Model) (*pipeline.Orchestrator, error) {
	cfg := rt.cfg
	if len(models) == 0 {
		built, err := buildModels(cfg.Models)
		if err != nil {
			return nil, err
		}
		models = built
	}
	infer, err := inference.NewAdapter(models, cfg.Policy.ModelTimeout, cfg.Policy.RetryTimeout, rt.obs)
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.New(cfg.Weights())
	if err != nil {
		return nil, err
	}
	corr, err := correlate.NewEngine(cfg.Correlation, nil)
	if err != nil {
		return nil, err
	}
	return pipeline.NewOrchestrator(quality.NewGate(cfg.Quality), infer, agg, corr, cfg.Policy.JobBudget, rt.obs)
}

func (rt *Runtime) buildSinks(custom []ResultSink) (ports.ResultSink, error) {
	cfg := rt.cfg
	sinks := append([]ResultSink(nil), custom...)

	if len(custom) == 0 {
		sinks = append(sinks, sink.NewLogSink(rt.logger))
		if cfg.Results.ConnString != "" {
			db, err := sql.Open("postgres", cfg.Results.ConnString)
			if err != nil {
				return nil, fmt.Errorf("results db: %w", err)
			}
			rt.db = db
			pg, err := sink.NewPostgresSink(db, cfg.Results.Table)
			if err != nil {
				return nil, err
			}
			if cfg.Results.EnsureSchema {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := pg.EnsureSchema(ctx)
				cancel()
				if err != nil {
					return nil, fmt.Errorf("results schema: %w", err)
				}
			}
			rt.results = pg
			sinks = append(sinks, pg)
		}
	}

	if !cfg.Journal.Disabled {
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		rt.journal = j
		sinks = append(sinks, sink.NewJournalSink(j))
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sink.NewFanout(sinks...), nil
}

func buildModels(cfgs []ModelConfig) ([]Model, error) {
	models := make([]Model, 0, len(cfgs))
	for _, mc := range cfgs {
		switch mc.Kind {
		case "builtin":
			m, err := model.NewBuiltin(mc.Builtin, mc.ID, mc.Version)
			if err != nil {
				return nil, err
			}
			m.Timeout = mc.Timeout
			models = append(models, m)
		case "remote":
			m, err := model.NewRemote(mc.Ref(), mc.Endpoint, mc.Timeout)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		default:
			return nil, fmt.Errorf("model %s: unknown kind %q", mc.ID, mc.Kind)
		}
	}
	return models, nil
}

func newQueue(pol Policy) ports.JobQueue {
	if pol.QueueOrder == "deadline" {
		return queue.NewDeadlineQueue(pol.QueueSize)
	}
	return queue.NewMemQueue(pol.QueueSize)
}

// Start launches the worker pool, the collector (if any) and the metrics server.
// It returns immediately; call Run to block on a context instead.
func (rt *Runtime) Start() error {
	if rt == nil {
		return fmt.Errorf("runtime is nil")
	}
	var err error
	rt.startOnce.Do(func() {
		rt.scheduler.Start()

		if rt.collector != nil {
			ctx, cancel := context.WithCancel(context.Background())
			done, ierr := pipeline.RunIngest(ctx, rt.collector, rt.submitJob, rt.cfg.Policy, rt.obs)
			if ierr != nil {
				cancel()
				err = fmt.Errorf("start collector: %w", ierr)
				return
			}
			rt.ingestCancel = cancel
			rt.ingestDoneCh = done
		}

		rt.startMetrics()
	})
	return err
}

// Run starts the runtime and blocks until ctx is cancelled, then drains in-flight jobs
// for up to one job budget.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Policy.JobBudget)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// Submit queues one signal for analysis. A zero deadline means the configured job
// budget. It fails fast with ErrBackpressure when the pending queue is full.
func (rt *Runtime) Submit(signal SignalSample, clinical *ClinicalContext, deadline time.Time) (*Handle, error) {
	return rt.scheduler.Submit(domain.NewAnalysisJob(signal, clinical, deadline))
}

// Analyze submits and waits for the result.
func (rt *Runtime) Analyze(ctx context.Context, signal SignalSample, clinical *ClinicalContext, deadline time.Time) (DiagnosticResult, error) {
	h, err := rt.Submit(signal, clinical, deadline)
	if err != nil {
		return DiagnosticResult{}, err
	}
	return h.Await(ctx)
}

func (rt *Runtime) submitJob(job *domain.AnalysisJob) error {
	_, err := rt.scheduler.Submit(job)
	return err
}

// Pending is the number of queued jobs not yet picked up by a worker.
func (rt *Runtime) Pending() int { return rt.scheduler.Pending() }

// InFlight is the number of jobs currently executing.
func (rt *Runtime) InFlight() int { return rt.scheduler.InFlight() }

// Results returns the PostgreSQL result store, or nil when none is configured.
func (rt *Runtime) Results() *sink.PostgresSink { return rt.results }

// Shutdown stops ingestion, drains the scheduler and closes every adapter. Jobs still
// running when ctx expires fail with TIMEOUT.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.shutdownOnce.Do(func() {
		var errs []error

		if rt.gaugeStopCh != nil {
			close(rt.gaugeStopCh)
			rt.gaugeWG.Wait()
		}
		if rt.ingestCancel != nil {
			rt.ingestCancel()
			<-rt.ingestDoneCh
		}
		if err := rt.scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		if rt.metricsSrv != nil {
			if err := rt.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		if rt.traceShutdown != nil {
			if err := rt.traceShutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracing: %w", err))
			}
			rt.traceShutdown = nil
		}
		errs = append(errs, rt.closeResources())
		rt.shutdownErr = errors.Join(errs...)
	})
	return rt.shutdownErr
}

func (rt *Runtime) closeResources() error {
	var errs []error
	for _, c := range rt.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
		rt.journal = nil
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.db = nil
	}
	if rt.traceShutdown != nil {
		if err := rt.traceShutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
		rt.traceShutdown = nil
	}
	return errors.Join(errs...)
}

// Handler serves /metrics from the runtime's registry and /healthz.
func (rt *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{Registry: rt.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (rt *Runtime) startMetrics() {
	rt.gaugeStopCh = make(chan struct{})
	rt.gaugeWG.Add(1)
	go func() {
		defer rt.gaugeWG.Done()
		rt.recordResourceGauges(rt.gaugeStopCh, time.Second)
	}()

	if rt.cfg.Metrics.Disabled {
		return
	}
	rt.metricsSrv = &http.Server{
		Addr:              rt.cfg.Metrics.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.obs.LogError("metrics_server_exited", err)
		}
	}()
}

func (rt *Runtime) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rt.obs.SetGauge("ecg_queue_length", float64(rt.scheduler.Pending()))
			rt.obs.SetGauge("ecg_jobs_in_flight", float64(rt.scheduler.InFlight()))
			if rt.journal != nil {
				rt.obs.SetGauge("ecg_journal_size_bytes", float64(rt.journal.Stats().SizeBytes))
			}
		}
	}
}
