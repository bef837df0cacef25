package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/savecodenow/internal/config"
	"github.com/JakeFAU/savecodenow/internal/logging"
)

const (
	limiterPruneInterval = 5 * time.Minute
	limiterIdleTimeout   = 30 * time.Minute
)

// Run serves HTTP and runs the refresh pipeline until ctx ends or a
// component fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, lis)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	a.logger.Info("application started")
	config.Watch(a.viper, a.logger.Named("config"), a.ApplyConfig)

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.sweeper.Run(gctx)
		return nil
	})
	if a.limiter != nil {
		g.Go(func() error {
			a.pruneLimiter(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// pruneLimiter forgets throttling buckets of clients idle for a while.
func (a *App) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Prune(limiterIdleTimeout); n > 0 {
				a.logger.Debug("pruned idle rate limit buckets", zap.Int("removed", n))
			}
		}
	}
}

// ApplyConfig applies the settings that can change without a restart: the
// webhook cooldown and the log level.
func (a *App) ApplyConfig(cfg config.Config) {
	if a.ingestor != nil && cfg.Webhooks.Cooldown != a.ingestor.Cooldown() {
		a.ingestor.SetCooldown(cfg.Webhooks.Cooldown)
		a.logger.Info("webhook cooldown updated", zap.Duration("cooldown", cfg.Webhooks.Cooldown))
	}
	if cfg.Logging.Level != "" && cfg.Logging.Level != a.level.Level().String() {
		if err := logging.SetLevel(a.level, cfg.Logging.Level); err != nil {
			a.logger.Warn("ignoring log level change", zap.Error(err))
			return
		}
		a.logger.Info("log level updated", zap.String("level", cfg.Logging.Level))
	}
}

// Close releases every resource the app holds. It is safe to call twice.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		errs = append(errs, a.closeInfrastructure(ctx)...)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) []error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.search != nil {
		if err := a.search.Close(); err != nil {
			a.logger.Warn("search index close failed", zap.Error(err))
		}
	}
	if a.collector != nil {
		a.reg.Unregister(a.collector)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("request store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("metric shutdown failed", zap.Error(err))
		}
	}
}
