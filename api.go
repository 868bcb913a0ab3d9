package ecgflow

import (
	"log/slog"
	"time"

	base "github.com/drguilhermecapel/ecgflow/pkg/ecgflow"
)

// Re-exported errors for convenience.
var (
	ErrBackpressure       = base.ErrBackpressure
	ErrSchedulerClosed    = base.ErrSchedulerClosed
	ErrInsufficientSignal = base.ErrInsufficientSignal
	ErrNoModelAvailable   = base.ErrNoModelAvailable
	ErrChannelSinkClosed  = base.ErrChannelSinkClosed
)

const (
	UrgencyRoutine  = base.UrgencyRoutine
	UrgencyUrgent   = base.UrgencyUrgent
	UrgencyCritical = base.UrgencyCritical

	StageDone   = base.StageDone
	StageFailed = base.StageFailed

	ReasonBadSignal     = base.ReasonBadSignal
	ReasonModelFailure  = base.ReasonModelFailure
	ReasonTimeout       = base.ReasonTimeout
	ReasonInternalError = base.ReasonInternalError

	CapabilityRhythm     = base.CapabilityRhythm
	CapabilityAnomaly    = base.CapabilityAnomaly
	CapabilityAcuteEvent = base.CapabilityAcuteEvent
)

// Type aliases so consumers can import github.com/drguilhermecapel/ecgflow directly.
type (
	Config            = base.Config
	Policy            = base.Policy
	QualityConfig     = base.QualityConfig
	ModelConfig       = base.ModelConfig
	CorrelationConfig = base.CorrelationConfig
	ResultsConfig     = base.ResultsConfig
	JournalConfig     = base.JournalConfig
	MQTTConfig        = base.MQTTConfig
	MetricsConfig     = base.MetricsConfig
	TracingConfig     = base.TracingConfig
	LogConfig         = base.LogConfig
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Handle            = base.Handle
	SignalSample      = base.SignalSample
	ClinicalContext   = base.ClinicalContext
	Vitals            = base.Vitals
	DiagnosticResult  = base.DiagnosticResult
	Label             = base.Label
	Urgency           = base.Urgency
	Stage             = base.Stage
	FailureReason     = base.FailureReason
	ModelRef          = base.ModelRef
	Capability        = base.Capability
	ModelScore        = base.ModelScore
	SignalWindow      = base.SignalWindow
	Model             = base.Model
	Collector         = base.Collector
	Submission        = base.Submission
	ResultSink        = base.ResultSink
	AlertDispatcher   = base.AlertDispatcher
	AlertFunc         = base.AlertFunc
	ResultFunc        = base.ResultFunc
	JobQueue          = base.JobQueue
	Observability     = base.Observability
	Field             = base.Field
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInMQTT(broker string) StreamInOption {
	return base.StreamInMQTT(broker)
}

func StreamInQueue(q JobQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInDeadlineOrder() StreamInOption {
	return base.StreamInDeadlineOrder()
}

func StreamInJobBudget(d time.Duration) StreamInOption {
	return base.StreamInJobBudget(d)
}

func StreamInRemoteModel(id string, capability Capability, endpoint string, timeout time.Duration) StreamInOption {
	return base.StreamInRemoteModel(id, capability, endpoint, timeout)
}

func StreamInModels(models ...Model) StreamInOption {
	return base.StreamInModels(models...)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s ResultSink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutAlerts(a AlertDispatcher) StreamOutOption {
	return base.StreamOutAlerts(a)
}

func StreamOutCriticalOnly(fn ResultFunc) StreamOutOption {
	return base.StreamOutCriticalOnly(fn)
}

func StreamOutPostgres(connString string) StreamOutOption {
	return base.StreamOutPostgres(connString)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn ResultFunc) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(col Collector) RuntimeOption {
	return base.WithCollector(col)
}

func WithSink(s ResultSink) RuntimeOption {
	return base.WithSink(s)
}

func WithAlertDispatcher(a AlertDispatcher) RuntimeOption {
	return base.WithAlertDispatcher(a)
}

func WithQueue(q JobQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithModels(models ...Model) RuntimeOption {
	return base.WithModels(models...)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return base.WithLogger(l)
}

// Sink adapters.
func NewCallbackSink(name string, fn ResultFunc) ResultSink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (ResultSink, <-chan DiagnosticResult, func()) {
	return base.NewChannelSink(name, buffer)
}
