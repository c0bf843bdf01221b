// Package memory provides a bounded in-process harvest job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/keyword-harvester/internal/harvest"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed and drained.
var ErrClosed = harvest.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan harvest.Job
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan harvest.Job, capacity),
	}
}

// Enqueue pushes a job into the queue, blocking while it is full, or returns
// when the context ends.
func (q *Queue) Enqueue(ctx context.Context, job harvest.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (harvest.Job, error) {
	select {
	case <-ctx.Done():
		return harvest.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return harvest.Job{}, ErrClosed
		}
		return job, nil
	}
}

// Len reports the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Buffered jobs can still be
// dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
