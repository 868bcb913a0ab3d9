package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drguilhermecapel/ecgflow/internal/app/correlate"
	"github.com/drguilhermecapel/ecgflow/internal/app/inference"
	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

const DefaultJobBudget = 30 * time.Second

var tracer = otel.Tracer("github.com/drguilhermecapel/ecgflow/pipeline")

type QualityGate interface {
	Assess(s domain.SignalSample) (domain.QualityReport, error)
}

type Inferencer interface {
	InferAll(ctx context.Context, w domain.SignalWindow) ([]domain.ModelScore, []inference.Failure, error)
}

type Aggregator interface {
	Aggregate(scores []domain.ModelScore) (domain.AggregatedDiagnosis, error)
}

type Correlator interface {
	Correlate(d domain.AggregatedDiagnosis, c *domain.ClinicalContext) correlate.Correlation
}

// Orchestrator drives one job through the diagnostic stages. It holds no per-job state
// and is shared by every worker.
type Orchestrator struct {
	gate   QualityGate
	infer  Inferencer
	agg    Aggregator
	corr   Correlator
	budget time.Duration
	obs    ports.Observability
	now    func() time.Time
}

func NewOrchestrator(gate QualityGate, infer Inferencer, agg Aggregator, corr Correlator, budget time.Duration, obs ports.Observability) (*Orchestrator, error) {
	if gate == nil || infer == nil || agg == nil || corr == nil {
		return nil, errors.New("orchestrator: every stage is required")
	}
	if obs == nil {
		return nil, errors.New("orchestrator: observability is required")
	}
	if budget <= 0 {
		budget = DefaultJobBudget
	}
	return &Orchestrator{
		gate:   gate,
		infer:  infer,
		agg:    agg,
		corr:   corr,
		budget: budget,
		obs:    obs,
		now:    time.Now,
	}, nil
}

// jobRun carries the mutable state of a single execution.
type jobRun struct {
	job   *domain.AnalysisJob
	start time.Time
	last  time.Time
	state domain.Stage
	trace []domain.StageEvent
	span  trace.Span
	now   func() time.Time
}

func (r *jobRun) advance(next domain.Stage, detail string) {
	at := r.now()
	r.trace = append(r.trace, domain.StageEvent{Stage: next, At: at, Took: at.Sub(r.last), Detail: detail})
	r.last = at
	r.state = next
	r.span.AddEvent(string(next))
}

func (r *jobRun) base() domain.DiagnosticResult {
	return domain.DiagnosticResult{
		JobID:     r.job.ID,
		PatientID: r.job.Signal.PatientID,
		ExamID:    r.job.Signal.ExamID,
	}
}

// fail discards partial output. failed names the stage that was being attempted.
func (r *jobRun) fail(failed domain.Stage, reason domain.FailureReason, msg string) domain.DiagnosticResult {
	r.advance(domain.StageFailed, string(reason))
	res := r.base()
	res.Status = domain.StageFailed
	res.FailedStage = failed
	res.Reason = reason
	res.Message = msg
	res.Urgency = domain.UrgencyUnset
	res.CompletedAt = r.last
	res.Latency = r.last.Sub(r.start)
	res.Trace = r.trace
	r.span.SetStatus(codes.Error, string(reason))
	return res
}

// Run always returns exactly one result, FAILED or DONE. Panics in any stage are
// recovered into INTERNAL_ERROR.
func (o *Orchestrator) Run(ctx context.Context, job *domain.AnalysisJob) (res domain.DiagnosticResult) {
	start := o.now()
	deadline := start.Add(o.budget)
	if !job.Deadline.IsZero() && job.Deadline.Before(deadline) {
		deadline = job.Deadline
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := ctx.Done()
	go func() {
		select {
		case <-job.Canceled():
			cancel()
		case <-done:
		}
	}()

	ctx, span := tracer.Start(ctx, "ecg.analyze", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("exam.id", job.Signal.ExamID),
	))
	defer span.End()

	r := &jobRun{job: job, start: start, last: start, span: span, now: o.now}
	r.advance(domain.StagePending, "")

	defer func() {
		if p := recover(); p != nil {
			o.obs.LogCritical("orchestrator_panic", fmt.Errorf("%v", p), ports.Field{Key: "job_id", Value: job.ID})
			res = r.fail(next(r.state), domain.ReasonInternalError, fmt.Sprintf("panic: %v", p))
		}
		o.obs.RecordResult(res)
		span.SetAttributes(attribute.String("result.status", string(res.Status)))
	}()

	return o.execute(ctx, r)
}

func (o *Orchestrator) execute(ctx context.Context, r *jobRun) domain.DiagnosticResult {
	job := r.job

	if err := ctx.Err(); err != nil {
		return r.fail(domain.StageQualityChecked, domain.ReasonTimeout, timeoutMessage(job, err))
	}
	report, err := o.gate.Assess(job.Signal)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientSignal) {
			return r.fail(domain.StageQualityChecked, domain.ReasonBadSignal, err.Error())
		}
		return r.fail(domain.StageQualityChecked, domain.ReasonInternalError, err.Error())
	}
	r.advance(domain.StageQualityChecked, fmt.Sprintf("noise=%.2f window=[%d,%d)",
		report.NoiseScore, report.UsableWindow.Start, report.UsableWindow.End))

	if err := ctx.Err(); err != nil {
		return r.fail(domain.StageScored, domain.ReasonTimeout, timeoutMessage(job, err))
	}
	window := domain.NewSignalWindow(job.Signal, report.UsableWindow)
	scores, failures, err := o.infer.InferAll(ctx, window)
	if cerr := ctx.Err(); cerr != nil {
		return r.fail(domain.StageScored, domain.ReasonTimeout, timeoutMessage(job, cerr))
	}
	if err != nil {
		if errors.Is(err, domain.ErrNoModelAvailable) {
			return r.fail(domain.StageScored, domain.ReasonModelFailure, err.Error())
		}
		return r.fail(domain.StageScored, domain.ReasonInternalError, err.Error())
	}
	degraded := len(failures) > 0
	r.advance(domain.StageScored, fmt.Sprintf("models=%d failed=%d", len(scores), len(failures)))

	diag, err := o.agg.Aggregate(scores)
	if err != nil {
		return r.fail(domain.StageAggregated, domain.ReasonInternalError, err.Error())
	}
	r.advance(domain.StageAggregated, fmt.Sprintf("%s %.3f", diag.Label, diag.Confidence))

	if err := ctx.Err(); err != nil {
		return r.fail(domain.StageCorrelated, domain.ReasonTimeout, timeoutMessage(job, err))
	}
	corr := o.corr.Correlate(diag, job.Context)
	r.advance(domain.StageCorrelated, corr.Urgency.String())

	if err := ctx.Err(); err != nil {
		return r.fail(domain.StageDone, domain.ReasonTimeout, timeoutMessage(job, err))
	}
	r.advance(domain.StageDone, "")

	res := r.base()
	res.Status = domain.StageDone
	res.Label = diag.Label
	res.Confidence = diag.Confidence
	res.Urgency = corr.Urgency
	res.DeterminingStage = domain.StageAggregated
	if corr.Escalated() {
		res.DeterminingStage = domain.StageCorrelated
	}
	res.EscalationRules = corr.Rules
	res.Degraded = degraded
	res.Models = make([]domain.ModelRef, 0, len(scores))
	for _, s := range scores {
		res.Models = append(res.Models, s.Model)
	}
	res.CompletedAt = r.last
	res.Latency = r.last.Sub(r.start)
	res.Trace = r.trace

	r.span.SetAttributes(
		attribute.String("diagnosis.label", string(res.Label)),
		attribute.String("diagnosis.urgency", res.Urgency.String()),
		attribute.Bool("diagnosis.degraded", degraded),
	)
	return res
}

func timeoutMessage(job *domain.AnalysisJob, err error) string {
	select {
	case <-job.Canceled():
		return "job canceled"
	default:
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline exceeded"
	}
	return err.Error()
}

// next is the stage a job in state s was working towards.
func next(s domain.Stage) domain.Stage {
	switch s {
	case domain.StagePending:
		return domain.StageQualityChecked
	case domain.StageQualityChecked:
		return domain.StageScored
	case domain.StageScored:
		return domain.StageAggregated
	case domain.StageAggregated:
		return domain.StageCorrelated
	case domain.StageCorrelated:
		return domain.StageDone
	}
	return s
}
