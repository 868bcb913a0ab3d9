// Package dispatch hands finished results to the alerting and persistence
// collaborators.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

type Dispatcher struct {
	sink   ports.ResultSink
	alerts ports.AlertDispatcher
	obs    ports.Observability
}

// New accepts a nil alerts collaborator; CRITICAL results are then only logged.
func New(sink ports.ResultSink, alerts ports.AlertDispatcher, obs ports.Observability) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("dispatch: result sink is required")
	}
	if obs == nil {
		return nil, errors.New("dispatch: observability is required")
	}
	return &Dispatcher{sink: sink, alerts: alerts, obs: obs}, nil
}

// Dispatch fires OnCriticalAlert for CRITICAL results and then OnResult, exactly once
// each. A failing alert never prevents the result from reaching the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, r domain.DiagnosticResult) error {
	var errs []error

	if r.Critical() {
		d.obs.IncCounter("ecg_critical_alerts_total", 1)
		d.obs.LogCritical("critical_result", nil,
			ports.Field{Key: "job_id", Value: r.JobID},
			ports.Field{Key: "patient_id", Value: r.PatientID},
			ports.Field{Key: "label", Value: string(r.Label)},
			ports.Field{Key: "confidence", Value: r.Confidence})
		if d.alerts != nil {
			if err := d.alerts.OnCriticalAlert(ctx, r); err != nil {
				d.obs.LogCritical("critical_alert_failed", err, ports.Field{Key: "job_id", Value: r.JobID})
				errs = append(errs, fmt.Errorf("critical alert: %w", err))
			}
		}
	}

	if err := d.sink.OnResult(ctx, r); err != nil {
		d.obs.IncCounter("ecg_sink_failures_total", 1)
		d.obs.LogError("result_sink_failed", err,
			ports.Field{Key: "job_id", Value: r.JobID},
			ports.Field{Key: "sink", Value: d.sink.Name()})
		errs = append(errs, fmt.Errorf("sink %s: %w", d.sink.Name(), err))
	}
	return errors.Join(errs...)
}
