package health

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QuarantineManager periodically scans for elapsed quarantine timers and
// releases the accounts. Release happens only through this scheduled check,
// never mid-action.
type QuarantineManager struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewQuarantineManager creates a quarantine manager
func NewQuarantineManager(registry *Registry, interval time.Duration, logger *zap.Logger) *QuarantineManager {
	if interval <= 0 {
		interval = time.Minute
	}
	return &QuarantineManager{
		registry: registry,
		interval: interval,
		logger:   logger.Named("quarantine"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic check until Stop is called or the context ends
func (m *QuarantineManager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
}

// Stop halts the periodic check and waits for the loop to exit
func (m *QuarantineManager) Stop() {
	close(m.stop)
	<-m.done
}

// Tick releases every account whose quarantine timer has elapsed. Exposed so
// callers can force a scan without waiting for the ticker.
func (m *QuarantineManager) Tick(ctx context.Context) {
	due := m.registry.DueForRelease()
	for _, id := range due {
		if err := m.registry.ReleaseFromQuarantine(ctx, id); err != nil {
			m.logger.Error("Failed to release account",
				zap.String("account_id", id.String()),
				zap.Error(err),
			)
		}
	}
	if len(due) > 0 {
		m.logger.Info("Quarantine scan complete", zap.Int("released", len(due)))
	}
}
