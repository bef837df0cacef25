// Package dispatcher manages worker fan-out over the refresh queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/savecodenow/internal/queue"
	"github.com/JakeFAU/savecodenow/internal/telemetry"
	"github.com/JakeFAU/savecodenow/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// AddWorkers registers workers started by the next Run.
func (d *Dispatcher) AddWorkers(workers ...*worker.Worker) {
	d.workers = append(d.workers, workers...)
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, id int64) error {
	if err := d.queue.Enqueue(ctx, id); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	telemetry.SetRefreshQueueDepth(d.queue.Len())
	return nil
}

// TryEnqueue queues id without blocking. Full queues drop the id; the sweeper
// picks it up on its next pass.
func (d *Dispatcher) TryEnqueue(id int64) bool {
	ok := d.queue.TryEnqueue(id)
	telemetry.SetRefreshQueueDepth(d.queue.Len())
	return ok
}
