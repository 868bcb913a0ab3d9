package ports

import "github.com/drguilhermecapel/ecgflow/internal/domain"

// JobQueue holds jobs waiting for a worker. Implementations must be safe for
// concurrent use and must refuse to grow past their capacity.
type JobQueue interface {
	Enqueue(job *domain.AnalysisJob) bool
	Dequeue() (*domain.AnalysisJob, bool)
	Len() int
}
