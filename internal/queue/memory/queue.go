// Package memory provides a bounded in-process refresh queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/savecodenow/internal/queue"
)

// Queue is a bounded in-memory queue of request ids. An id already waiting
// is not queued twice.
type Queue struct {
	ch   chan int64
	done chan struct{}

	mu      sync.Mutex
	pending map[int64]struct{}
	closed  bool
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:      make(chan int64, capacity),
		done:    make(chan struct{}),
		pending: make(map[int64]struct{}, capacity),
	}
}

// reserve marks id pending; it reports false when id is already pending or
// the queue is closed.
func (q *Queue) reserve(id int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, queue.ErrClosed
	}
	if _, ok := q.pending[id]; ok {
		return false, nil
	}
	q.pending[id] = struct{}{}
	return true, nil
}

func (q *Queue) release(id int64) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// Enqueue pushes an id into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, id int64) error {
	fresh, err := q.reserve(id)
	if err != nil || !fresh {
		return err
	}
	select {
	case <-ctx.Done():
		q.release(id)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.release(id)
		return queue.ErrClosed
	case q.ch <- id:
		return nil
	}
}

// TryEnqueue pushes an id when there is room.
func (q *Queue) TryEnqueue(id int64) bool {
	fresh, err := q.reserve(id)
	if err != nil {
		return false
	}
	if !fresh {
		return true
	}
	select {
	case q.ch <- id:
		return true
	default:
		q.release(id)
		return false
	}
}

// Dequeue pops the next id, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return 0, queue.ErrClosed
	case id := <-q.ch:
		q.release(id)
		return id, nil
	}
}

// Len reports the number of queued ids.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue; waiting callers return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
