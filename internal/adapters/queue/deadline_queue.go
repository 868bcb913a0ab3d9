package queue

import (
	"container/heap"
	"sync"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// DeadlineQueue is a bounded queue that hands out the job with the earliest deadline
// first. Jobs without a deadline go after every job that has one, in arrival order.
type DeadlineQueue struct {
	mu    sync.Mutex
	items deadlineHeap
	cap   int
	seq   uint64
}

func NewDeadlineQueue(capacity int) *DeadlineQueue {
	return &DeadlineQueue{
		items: make(deadlineHeap, 0, capacity),
		cap:   capacity,
	}
}

func (q *DeadlineQueue) Enqueue(job *domain.AnalysisJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return false
	}
	q.seq++
	heap.Push(&q.items, &deadlineItem{job: job, seq: q.seq})
	return true
}

func (q *DeadlineQueue) Dequeue() (*domain.AnalysisJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*deadlineItem)
	return item.job, true
}

func (q *DeadlineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type deadlineItem struct {
	job *domain.AnalysisJob
	seq uint64
}

type deadlineHeap []*deadlineItem

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	di, dj := h[i].job.Deadline, h[j].job.Deadline
	switch {
	case !di.IsZero() && !dj.IsZero() && !di.Equal(dj):
		return di.Before(dj)
	case !di.IsZero() && dj.IsZero():
		return true
	case di.IsZero() && !dj.IsZero():
		return false
	}
	return h[i].seq < h[j].seq
}

func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(*deadlineItem)) }

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ ports.JobQueue = (*DeadlineQueue)(nil)
