package ecgflow

import (
	"github.com/drguilhermecapel/ecgflow/internal/app/scheduler"
	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

type (
	// SignalSample is a single-lead recording submitted for analysis.
	SignalSample = domain.SignalSample
	// ClinicalContext carries age, history and vitals used to escalate urgency.
	ClinicalContext = domain.ClinicalContext
	Vitals          = domain.Vitals
	HistoryFlag     = domain.HistoryFlag

	// DiagnosticResult is emitted exactly once per submitted signal.
	DiagnosticResult = domain.DiagnosticResult
	Label            = domain.Label
	Urgency          = domain.Urgency
	Stage            = domain.Stage
	FailureReason    = domain.FailureReason
	StageEvent       = domain.StageEvent

	ModelRef     = domain.ModelRef
	ModelScore   = domain.ModelScore
	SignalWindow = domain.SignalWindow
	Capability   = domain.Capability
)

type (
	// Model scores a signal window and returns a full label distribution.
	Model = ports.Model
	// Collector streams submissions from a device gateway into the scheduler.
	Collector = ports.Collector
	// Submission is what a Collector emits.
	Submission = ports.Submission
	// ResultSink receives every finished result.
	ResultSink = ports.ResultSink
	// AlertDispatcher is notified of CRITICAL results before the sink.
	AlertDispatcher = ports.AlertDispatcher
	// JobQueue holds jobs waiting for a worker.
	JobQueue = ports.JobQueue
	// Observability emits logs and metrics about jobs.
	Observability = ports.Observability
	// Field is a structured log field used by Observability implementations.
	Field = ports.Field

	// Handle tracks one submitted job until its result is available.
	Handle = scheduler.Handle
)

const (
	UrgencyRoutine  = domain.UrgencyRoutine
	UrgencyUrgent   = domain.UrgencyUrgent
	UrgencyCritical = domain.UrgencyCritical

	StageDone   = domain.StageDone
	StageFailed = domain.StageFailed

	ReasonBadSignal     = domain.ReasonBadSignal
	ReasonModelFailure  = domain.ReasonModelFailure
	ReasonTimeout       = domain.ReasonTimeout
	ReasonInternalError = domain.ReasonInternalError

	CapabilityRhythm     = domain.CapabilityRhythm
	CapabilityAnomaly    = domain.CapabilityAnomaly
	CapabilityAcuteEvent = domain.CapabilityAcuteEvent
)

var (
	ErrBackpressure       = domain.ErrBackpressure
	ErrSchedulerClosed    = domain.ErrSchedulerClosed
	ErrInsufficientSignal = domain.ErrInsufficientSignal
	ErrNoModelAvailable   = domain.ErrNoModelAvailable
)
