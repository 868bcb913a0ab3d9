package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// Fanout delivers each result to every sink in order. One failing sink does not stop
// delivery to the others.
type Fanout struct {
	sinks []ports.ResultSink
}

func NewFanout(sinks ...ports.ResultSink) *Fanout {
	out := make([]ports.ResultSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Name() string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

func (f *Fanout) OnResult(ctx context.Context, r domain.DiagnosticResult) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.OnResult(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ ports.ResultSink = (*Fanout)(nil)
