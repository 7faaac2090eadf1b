// Package circuitbreaker stops calling a failing collaborator for a while.
// Keys name the collaborator (e.g. "whatsapp", "gateway:yoco").
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrOpen is returned by Do while the circuit rejects calls.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected
	StateHalfOpen              // one probe in flight
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by key and target state.",
	}, []string{"key", "to_state"})

	rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "circuitbreaker",
		Name:      "rejected_total",
		Help:      "Calls short-circuited while open.",
	}, []string{"key"})
)

// circuit is the state of one key. Guarded by Breaker.mu.
type circuit struct {
	key      string
	state    State
	failures int
	openedAt time.Time
}

func (c *circuit) moveTo(to State, at time.Time) {
	if c.state == to {
		return
	}
	c.state = to
	if to == StateOpen {
		c.openedAt = at
	}
	transitions.WithLabelValues(c.key, to.String()).Inc()
}

// Breaker is a per-key circuit breaker. A key opens after threshold
// consecutive failures and admits a single probe once cooldown passes.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a breaker. Non-positive arguments fall back to 5 failures
// and 30 seconds.
func New(threshold int, cooldown time.Duration) *Breaker {
	b := &Breaker{threshold: 5, cooldown: 30 * time.Second, now: time.Now, circuits: map[string]*circuit{}}
	if threshold > 0 {
		b.threshold = threshold
	}
	if cooldown > 0 {
		b.cooldown = cooldown
	}
	return b
}

// Do runs fn unless the circuit for key is open, and records its outcome.
func (b *Breaker) Do(key string, fn func() error) error {
	if !b.Allow(key) {
		rejected.WithLabelValues(key).Inc()
		return ErrOpen
	}
	err := fn()
	if err != nil {
		b.RecordFailure(key)
	} else {
		b.RecordSuccess(key)
	}
	return err
}

// Allow reports whether a call to key may proceed. An open circuit whose
// cooldown has elapsed moves to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return true
	}
	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		now := b.now()
		if now.Sub(c.openedAt) < b.cooldown {
			return false
		}
		c.moveTo(StateHalfOpen, now)
		return true
	default:
		return false
	}
}

// RecordSuccess closes a half-open circuit and clears the failure count.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c := b.circuits[key]; c != nil {
		c.failures = 0
		c.moveTo(StateClosed, b.now())
	}
}

// RecordFailure counts a failure. A failed probe reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		c = &circuit{key: key}
		b.circuits[key] = c
	}
	c.failures++
	if c.state == StateHalfOpen || c.failures >= b.threshold {
		c.moveTo(StateOpen, b.now())
	}
}

// State returns the state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.circuits[key]; c != nil {
		return c.state
	}
	return StateClosed
}
