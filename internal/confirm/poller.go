// Package confirm answers "has my payment landed yet?" after a checkout
// redirect. The webhook and the poller race; neither is guaranteed to win,
// so a poll that runs out of attempts reports TimedOut, never failure.
package confirm

import (
	"context"
	"log/slog"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/metrics"
)

// Outcome of a polling run.
type Outcome string

const (
	Confirmed Outcome = "confirmed"
	TimedOut  Outcome = "timed_out"
	Cancelled Outcome = "cancelled"
)

// Probe reads the current state once. done reports whether the expected
// state has been reached.
type Probe interface {
	Probe(ctx context.Context) (state *State, done bool, err error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (*State, bool, error)

// Probe implements Probe.
func (f ProbeFunc) Probe(ctx context.Context) (*State, bool, error) { return f(ctx) }

// Result of a polling run. State is the last state observed, if any.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	State    *State  `json:"state,omitempty"`
	Attempts int     `json:"attempts"`
}

// Poller probes at a fixed interval up to MaxAttempts times.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Flow        string // metrics label: "plan" or "order"
	Logger      *slog.Logger
}

// Poll intervals and limits per flow.
const (
	DefaultInterval     = time.Second
	PlanMaxAttempts     = 30
	SignupMaxAttempts   = 180
	OrderMaxAttempts    = 60
	MaxServerSideWait   = 30 * time.Second
	minimumPollInterval = 10 * time.Millisecond
	defaultFlow         = "plan"
)

// Run probes until the expected state is seen, attempts run out or ctx is
// done. Probe errors count as "not yet". No timer outlives Run.
func (p Poller) Run(ctx context.Context, probe Probe) (res Result) {
	interval := p.Interval
	if interval < minimumPollInterval {
		interval = DefaultInterval
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = PlanMaxAttempts
	}
	flow := p.Flow
	if flow == "" {
		flow = defaultFlow
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		metrics.PollOutcomesTotal.WithLabelValues(flow, string(res.Outcome)).Inc()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for res.Attempts < attempts {
		select {
		case <-ctx.Done():
			res.Outcome = Cancelled
			return res
		case <-timer.C:
		}

		res.Attempts++
		state, done, err := probe.Probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				res.Outcome = Cancelled
				return res
			}
			logger.Debug("confirmation probe failed", "flow", flow, "attempt", res.Attempts, "error", err)
		} else if state != nil {
			res.State = state
		}
		if err == nil && done {
			res.Outcome = Confirmed
			return res
		}
		timer.Reset(interval)
	}
	res.Outcome = TimedOut
	return res
}
