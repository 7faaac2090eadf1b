package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval between background audits.
const DefaultInterval = 5 * time.Minute

// Timer runs the ledger audit and stale-payment sweep on a fixed cadence and
// keeps the most recent report for the admin surface.
type Timer struct {
	runner   *Runner
	interval time.Duration
	logger   *slog.Logger

	quit     chan struct{}
	quitOnce sync.Once
	active   atomic.Bool
	last     atomic.Pointer[Report]
}

func NewTimer(runner *Runner, logger *slog.Logger) *Timer {
	return &Timer{
		runner:   runner,
		interval: DefaultInterval,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

// Running reports whether Start is currently looping.
func (t *Timer) Running() bool { return t.active.Load() }

// LastReport returns the report from the most recent successful pass, or nil.
func (t *Timer) LastReport() *Report { return t.last.Load() }

// Start blocks until ctx is cancelled or Stop is called.
func (t *Timer) Start(ctx context.Context) {
	if !t.active.CompareAndSwap(false, true) {
		return
	}
	defer t.active.Store(false)

	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			t.pass(ctx)
		case <-t.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop. Safe to call more than once.
func (t *Timer) Stop() {
	t.quitOnce.Do(func() { close(t.quit) })
}

// pass runs one audit. A panic in a store must not take the loop down.
func (t *Timer) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("reconciliation pass panicked", "panic", fmt.Sprint(r))
		}
	}()

	report, err := t.runner.RunAll(ctx)
	if err != nil {
		t.logger.Warn("reconciliation pass failed", "error", err)
		return
	}
	t.last.Store(report)
	if report.Clean() {
		return
	}
	t.logger.Info("reconciliation flagged records",
		"ledger_violations", len(report.Violations),
		"stale_payments", len(report.StalePayments),
	)
}
