package ecgflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Flow assembles a Runtime in two halves. StreamIN describes where recordings come
// from and which models score them; StreamOUT describes where results and CRITICAL
// alerts go. Config edits made by options are validated once, when StreamOUT builds
// the Runtime.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
	err  error
}

// FlowOption mutates the Flow right after its configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the acquisition and scoring side.
type StreamInOption func(*Flow) error

// StreamOutOption configures the result and alerting side.
type StreamOutOption func(*Flow) error

// Conf loads a YAML config and returns a Flow over it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from a Config built in code. The Flow edits cfg in place.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config exposes the configuration the Runtime will be built from.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options passes RuntimeOption values straight through.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.add(opts...)
	return f
}

// Err reports the first option error recorded by StreamIN.
func (f *Flow) Err() error {
	if f == nil {
		return errors.New("flow is nil")
	}
	return f.err
}

// StreamIN applies acquisition-side options. The first failing option is kept and
// returned by StreamOUT, so calls can be chained.
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt == nil || f.err != nil {
			continue
		}
		if err := opt(f); err != nil {
			f.err = fmt.Errorf("stream in: %w", err)
		}
	}
	return f
}

// StreamOUT applies result-side options and builds the Runtime.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("stream out: %w", err)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run builds the Runtime and blocks until ctx is done.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions attaches RuntimeOption values at Conf time.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.add(opts...) }
}

// StreamInCollector feeds recordings from a device gateway, simulator or replay.
func StreamInCollector(col Collector) StreamInOption {
	return func(f *Flow) error {
		if col == nil {
			return errors.New("nil collector")
		}
		f.add(WithCollector(col))
		return nil
	}
}

// StreamInMQTT subscribes to recordings on broker using the topic defaults.
func StreamInMQTT(broker string) StreamInOption {
	return func(f *Flow) error {
		if broker == "" {
			return errors.New("mqtt broker is required")
		}
		f.cfg.MQTT.Broker = broker
		return nil
	}
}

// StreamInQueue replaces the pending-job queue.
func StreamInQueue(q JobQueue) StreamInOption {
	return func(f *Flow) error {
		if q == nil {
			return errors.New("nil queue")
		}
		f.add(WithQueue(q))
		return nil
	}
}

// StreamInDeadlineOrder serves pending jobs earliest-deadline-first.
func StreamInDeadlineOrder() StreamInOption {
	return func(f *Flow) error {
		f.cfg.Policy.QueueOrder = "deadline"
		return nil
	}
}

// StreamInJobBudget caps end-to-end analysis time per recording.
func StreamInJobBudget(d time.Duration) StreamInOption {
	return func(f *Flow) error {
		if d <= 0 {
			return fmt.Errorf("job budget must be positive, got %s", d)
		}
		f.cfg.Policy.JobBudget = d
		return nil
	}
}

// StreamInModels replaces the models declared in config.
func StreamInModels(models ...Model) StreamInOption {
	return func(f *Flow) error {
		if len(models) == 0 {
			return errors.New("at least one model is required")
		}
		f.add(WithModels(models...))
		return nil
	}
}

// StreamInRemoteModel adds a model served over HTTP next to the configured ones.
// A zero timeout keeps the policy model timeout.
func StreamInRemoteModel(id string, capability Capability, endpoint string, timeout time.Duration) StreamInOption {
	return func(f *Flow) error {
		if !capability.Valid() {
			return fmt.Errorf("remote model %s: unknown capability %q", id, capability)
		}
		f.cfg.Models = append(f.cfg.Models, ModelConfig{
			ID:         id,
			Kind:       "remote",
			Capability: string(capability),
			Endpoint:   endpoint,
			Timeout:    timeout,
		})
		return nil
	}
}

// StreamInObservability replaces the Prometheus-backed observability.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) error {
		if obs == nil {
			return errors.New("nil observability")
		}
		f.add(WithObservability(obs))
		return nil
	}
}

// StreamOutSink adds a result sink. Custom sinks replace the log and PostgreSQL sinks.
func StreamOutSink(s ResultSink) StreamOutOption {
	return func(f *Flow) error {
		if s == nil {
			return errors.New("nil sink")
		}
		f.add(WithSink(s))
		return nil
	}
}

// StreamOutCallback adds a sink that calls fn for every result.
func StreamOutCallback(name string, fn ResultFunc) StreamOutOption {
	return func(f *Flow) error {
		if fn == nil {
			return fmt.Errorf("callback sink %q: nil handler", name)
		}
		f.add(WithSink(NewCallbackSink(name, fn)))
		return nil
	}
}

// StreamOutPostgres stores results in PostgreSQL, creating the table when missing.
func StreamOutPostgres(connString string) StreamOutOption {
	return func(f *Flow) error {
		if connString == "" {
			return errors.New("postgres connection string is required")
		}
		f.cfg.Results.ConnString = connString
		f.cfg.Results.EnsureSchema = true
		return nil
	}
}

// StreamOutAlerts replaces the CRITICAL alert dispatcher.
func StreamOutAlerts(a AlertDispatcher) StreamOutOption {
	return func(f *Flow) error {
		if a == nil {
			return errors.New("nil alert dispatcher")
		}
		f.add(WithAlertDispatcher(a))
		return nil
	}
}

// StreamOutCriticalOnly calls fn for CRITICAL results only, e.g. to page a clinician.
func StreamOutCriticalOnly(fn ResultFunc) StreamOutOption {
	return func(f *Flow) error {
		if fn == nil {
			return errors.New("nil critical handler")
		}
		f.add(WithAlertDispatcher(AlertFunc(fn)))
		return nil
	}
}

// StreamOutObservability replaces the Prometheus-backed observability.
func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) error {
		if obs == nil {
			return errors.New("nil observability")
		}
		f.add(WithObservability(obs))
		return nil
	}
}

func (f *Flow) add(opts ...RuntimeOption) {
	if f == nil {
		return
	}
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
