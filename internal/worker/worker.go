// Package worker implements the refresh execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/queue"
	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/telemetry"
)

// Refresher reconciles one save request.
type Refresher interface {
	Refresh(ctx context.Context, id int64) (savecode.SaveRequest, error)
}

// Worker consumes request ids and refreshes them.
type Worker struct {
	queue     queue.Queue
	refresher Refresher
	logger    *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, refresher Refresher, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     q,
		refresher: refresher,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		telemetry.SetRefreshQueueDepth(w.queue.Len())
		w.logger.Debug("dequeued request", zap.Int64("request_id", id))
		w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, id int64) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()

	if w.refresher == nil {
		w.logger.Error("no refresher configured", zap.Int64("request_id", id))
		return
	}
	req, err := w.refresher.Refresh(ctx, id)
	switch {
	case err == nil:
		w.logger.Debug("request refreshed",
			zap.Int64("request_id", id),
			zap.String("task_status", string(req.LoadingTaskStatus)),
		)
	case errors.Is(err, savecode.ErrNotFound):
		w.logger.Debug("request vanished before refresh", zap.Int64("request_id", id))
	case ctx.Err() != nil:
		// shutting down
	default:
		w.logger.Warn("refresh failed", zap.Int64("request_id", id), zap.Error(err))
	}
}
