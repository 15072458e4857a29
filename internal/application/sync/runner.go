package sync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner sweeps all published listings through the reconciler on a fixed
// interval
type Runner struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRunner creates a runner using the reconciler's configured interval
func NewRunner(reconciler *Reconciler, logger *zap.Logger) *Runner {
	return &Runner{
		reconciler: reconciler,
		interval:   reconciler.cfg.Interval,
		logger:     logger.Named("sync_runner"),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the periodic sweep loop
func (r *Runner) Start(ctx context.Context) {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("Sync runner started", zap.Duration("interval", r.interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				if err := r.reconciler.ReconcileAll(ctx); err != nil {
					r.logger.Error("Reconcile sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop stops the loop and waits for it to exit
func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
	r.logger.Info("Sync runner stopped")
}
