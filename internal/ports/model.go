package ports

import (
	"context"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

// Model scores a signal window. Implementations are shared across concurrent jobs and
// must not keep per-call state. They return a full distribution, never a hard label.
type Model interface {
	Ref() domain.ModelRef
	Infer(ctx context.Context, w domain.SignalWindow) (domain.ModelScore, error)
}
