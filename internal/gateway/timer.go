package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/payment"
)

// Sweeper fails pending payments whose provider checkout was never opened.
// Records that did reach the provider stay pending: a webhook may still
// arrive for them, and reconciliation reports them instead.
type Sweeper struct {
	payments payment.Store
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	now      func() time.Time
}

// NewSweeper creates a sweeper for checkouts older than maxAge.
func NewSweeper(payments payment.Store, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		payments: payments,
		interval: 10 * time.Minute,
		maxAge:   maxAge,
		logger:   logger,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start runs the sweep loop until ctx is done or Stop is called. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in checkout sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep runs one pass and returns the number of records failed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	const batchSize = 100
	cutoff := s.now().Add(-s.maxAge)

	stale, err := s.payments.ListStale(ctx, cutoff, batchSize)
	if err != nil {
		s.logger.Warn("failed to list stale pending payments", "error", err)
		return 0
	}

	failed := 0
	for _, p := range stale {
		if p.PaymentReference != "" {
			continue
		}
		if err := s.payments.MarkFailed(ctx, p.ID, "checkout never opened"); err != nil {
			s.logger.Warn("failed to expire abandoned checkout", "token", p.ID, "error", err)
			continue
		}
		failed++
		abandonedCheckouts.Inc()
	}
	if failed > 0 {
		s.logger.Info("expired abandoned checkouts", "count", failed)
	}
	return failed
}
