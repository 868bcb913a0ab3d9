package ports

import (
	"context"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

// ResultSink receives every finished job exactly once, DONE or FAILED.
type ResultSink interface {
	OnResult(ctx context.Context, r domain.DiagnosticResult) error
	Name() string
}

// AlertDispatcher is the fast path for CRITICAL results. It only decides that a
// notification is due; delivery belongs to the notification collaborator.
type AlertDispatcher interface {
	OnCriticalAlert(ctx context.Context, r domain.DiagnosticResult) error
}
