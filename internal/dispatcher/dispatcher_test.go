// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), 42)
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if dispatch.TryEnqueue(42) {
		t.Fatal("expected TryEnqueue to report the failing queue")
	}
}

func TestSweeperRunsOnInterval(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{}
	sweeper := NewSweeper(refresher, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for refresher.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not run twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestSweeperDisabled(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{}
	sweeper := NewSweeper(refresher, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sweeper.Run(ctx)
	if refresher.calls.Load() != 0 {
		t.Fatalf("expected no sweeps, got %d", refresher.calls.Load())
	}
}

func TestSweepReportsPartialProgress(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{
		result: []savecode.SaveRequest{{ID: 1}},
		err:    fmt.Errorf("batch: %w", savecode.ErrSchedulerUnavailable),
	}
	sweeper := NewSweeper(refresher, time.Minute, zap.NewNop())
	if got := sweeper.Sweep(context.Background()); got != 1 {
		t.Fatalf("expected 1 refreshed, got %d", got)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, int64) error { return nil }

func (q *blockingQueue) TryEnqueue(int64) bool { return true }

func (q *blockingQueue) Dequeue(ctx context.Context) (int64, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return 0, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Len() int { return 0 }

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, int64) error {
	return q.err
}

func (q *errorQueue) TryEnqueue(int64) bool { return false }

func (q *errorQueue) Dequeue(context.Context) (int64, error) {
	return 0, q.err
}

func (q *errorQueue) Len() int { return 0 }

type countingRefresher struct {
	calls  atomic.Int32
	result []savecode.SaveRequest
	err    error
}

func (c *countingRefresher) RefreshPending(context.Context) ([]savecode.SaveRequest, error) {
	c.calls.Add(1)
	return c.result, c.err
}
