// Package queue defines the refresh queue that feeds save request ids to the
// refresh workers.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned once the queue has shut down.
var ErrClosed = errors.New("queue closed")

// Queue carries save request ids awaiting a refresh.
type Queue interface {
	// Enqueue blocks until id is queued or ctx ends.
	Enqueue(ctx context.Context, id int64) error
	// TryEnqueue queues id without blocking and reports whether it is queued.
	TryEnqueue(id int64) bool
	// Dequeue blocks until an id is available, ctx ends or the queue closes.
	Dequeue(ctx context.Context) (int64, error)
	Len() int
}
