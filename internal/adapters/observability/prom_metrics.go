package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	results  *prometheus.CounterVec
}

// NewPromObs registers the pipeline metrics on reg (the default registerer when nil)
// and logs through logger (slog.Default when nil).
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_jobs_submitted_total",
		Help: "Analysis jobs accepted by the scheduler.",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_jobs_rejected_total",
		Help: "Submissions refused because the pending queue was full.",
	})
	alerts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_critical_alerts_total",
		Help: "CRITICAL results handed to the alert dispatcher.",
	})
	modelFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_model_failures_total",
		Help: "Model calls that failed after the retry and were left out of aggregation.",
	})
	modelRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_model_retries_total",
		Help: "Model calls retried with the shorter timeout.",
	})
	sinkFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_sink_failures_total",
		Help: "Result or alert deliveries that returned an error.",
	})
	ingestDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_ingest_dropped_total",
		Help: "Ingested signals dropped before reaching the scheduler.",
	})
	decodeErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ecg_ingest_decode_errors_total",
		Help: "Ingested payloads that could not be decoded into a signal.",
	})
	queueGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecg_queue_length",
		Help: "Jobs waiting for a worker.",
	})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecg_jobs_in_flight",
		Help: "Jobs currently executing on a worker.",
	})
	journalSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ecg_journal_size_bytes",
		Help: "Size of the result journal on disk.",
	})
	jobLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ecg_job_latency_seconds",
		Help:    "Wall-clock time from job start to finalized result.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})
	inferLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ecg_inference_latency_seconds",
		Help:    "Latency of a single model call, including its retry.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ecg_results_total",
		Help: "Finalized results by status, failure reason and urgency.",
	}, []string{"status", "reason", "urgency"})

	reg.MustRegister(submitted, rejected, alerts, modelFailures, modelRetries, sinkFailures,
		ingestDropped, decodeErrors, queueGauge, inFlight, journalSize, jobLatency, inferLatency, results)

	return &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			"ecg_jobs_submitted_total":       submitted,
			"ecg_jobs_rejected_total":        rejected,
			"ecg_critical_alerts_total":      alerts,
			"ecg_model_failures_total":       modelFailures,
			"ecg_model_retries_total":        modelRetries,
			"ecg_sink_failures_total":        sinkFailures,
			"ecg_ingest_dropped_total":       ingestDropped,
			"ecg_ingest_decode_errors_total": decodeErrors,
		},
		gauges: map[string]prometheus.Gauge{
			"ecg_queue_length":       queueGauge,
			"ecg_jobs_in_flight":     inFlight,
			"ecg_journal_size_bytes": journalSize,
		},
		histos: map[string]prometheus.Observer{
			"ecg_job_latency_seconds":       jobLatency,
			"ecg_inference_latency_seconds": inferLatency,
		},
		results: results,
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("error", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	args := append(attrs(fields), slog.Bool("critical", true))
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	p.logger.Error(msg, args...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordResult(r domain.DiagnosticResult) {
	p.results.WithLabelValues(string(r.Status), string(r.Reason), r.Urgency.String()).Inc()
	p.ObserveLatency("ecg_job_latency_seconds", r.Latency.Seconds())
	if r.Failed() {
		p.logger.Warn("job_failed",
			slog.String("job_id", r.JobID),
			slog.String("failed_stage", string(r.FailedStage)),
			slog.String("reason", string(r.Reason)),
			slog.String("message", r.Message))
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
