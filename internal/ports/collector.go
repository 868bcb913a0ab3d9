package ports

import (
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

// Submission is a request to analyse one signal, as produced by an ingestion adapter.
type Submission struct {
	Signal   domain.SignalSample     `json:"signal"`
	Context  *domain.ClinicalContext `json:"context,omitempty"`
	Deadline time.Time               `json:"deadline,omitempty"`
}

type Collector interface {
	Start(out chan<- *Submission) error
	Stop() error
}
