// Package scheduler
package scheduler

import (
	"context"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/app/middleware"
	"go.uber.org/zap"
)

// Reconciler is the slice of the reconciliation flow the scheduler drives
type Reconciler interface {
	Reconcile(ctx context.Context) (*dto.SyncSummaryDTO, error)
}

// ReconcileScheduler periodically converges local users with the legacy system
type ReconcileScheduler struct {
	reconciler Reconciler
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger
}

func NewReconcileScheduler(reconciler Reconciler, interval time.Duration, logger *zap.Logger) *ReconcileScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileScheduler{
		reconciler: reconciler,
		interval:   interval,
		timeout:    interval,
		logger:     logger,
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function.
// The stop function waits for an in-flight run to notice cancellation.
func (s *ReconcileScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *ReconcileScheduler) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	summary, err := s.reconciler.Reconcile(ctx)
	middleware.ObserveReconcile(summary, err, time.Since(start))
	if err != nil {
		s.logger.Error("scheduled reconciliation failed", zap.Error(err))
		return
	}
	if summary.Skipped {
		s.logger.Debug("scheduled reconciliation skipped, another run holds the lock")
		return
	}
	s.logger.Info("scheduled reconciliation finished",
		zap.Int("admins_created", summary.AdminsCreated),
		zap.Int("users_created", summary.UsersCreated),
		zap.Duration("elapsed", time.Since(start)),
	)
}
