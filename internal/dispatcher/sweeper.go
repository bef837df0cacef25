package dispatcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// PendingRefresher refreshes every accepted request still in flight.
type PendingRefresher interface {
	RefreshPending(ctx context.Context) ([]savecode.SaveRequest, error)
}

// Sweeper periodically refreshes pending requests so nothing depends on the
// queue alone.
type Sweeper struct {
	refresher PendingRefresher
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper builds a Sweeper. A non-positive interval disables it.
func NewSweeper(refresher PendingRefresher, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{refresher: refresher, interval: interval, logger: logger}
}

// Run sweeps once per interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 || s.refresher == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one refresh pass and reports how many requests it touched.
func (s *Sweeper) Sweep(ctx context.Context) int {
	start := time.Now()
	refreshed, err := s.refresher.RefreshPending(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return len(refreshed)
		}
		level := zap.ErrorLevel
		if errors.Is(err, savecode.ErrSchedulerUnavailable) {
			level = zap.WarnLevel
		}
		s.logger.Log(level, "refresh sweep failed",
			zap.Int("refreshed", len(refreshed)),
			zap.Error(err),
		)
		return len(refreshed)
	}
	s.logger.Debug("refresh sweep complete",
		zap.Int("refreshed", len(refreshed)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return len(refreshed)
}
