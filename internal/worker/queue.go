// Package worker runs event-driven side effects off the publishing goroutine.
package worker

import (
	"context"
	"sync"
)

// Queue runs jobs one at a time in submission order. Enqueue never blocks,
// so it is safe to call from pipeline event listeners.
type Queue struct {
	mu     sync.Mutex
	jobs   []func()
	signal chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Enqueue appends a job
func (q *Queue) Enqueue(job func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of jobs waiting to run
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Run executes jobs until ctx is done. Jobs still queued at that point are
// run before returning.
func (q *Queue) Run(ctx context.Context) {
	for {
		if q.runPending() {
			continue
		}
		select {
		case <-ctx.Done():
			q.runPending()
			return
		case <-q.signal:
		}
	}
}

func (q *Queue) runPending() bool {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	for _, job := range jobs {
		job()
	}
	return len(jobs) > 0
}
