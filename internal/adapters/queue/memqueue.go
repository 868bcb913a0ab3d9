package queue

import (
	"sync"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
type MemQueue struct {
	mu   sync.Mutex
	data []*domain.AnalysisJob
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		data: make([]*domain.AnalysisJob, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(job *domain.AnalysisJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, job)
	return true
}

func (q *MemQueue) Dequeue() (*domain.AnalysisJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil, false
	}
	job := q.data[0]
	q.data[0] = nil
	q.data = q.data[1:]
	if len(q.data) == 0 {
		q.data = make([]*domain.AnalysisJob, 0, q.cap)
	}
	return job, true
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.JobQueue = (*MemQueue)(nil)
