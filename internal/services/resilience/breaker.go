package resilience

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation, calls pass through.
	BreakerOpen                         // Calls short-circuit without touching the network.
	BreakerHalfOpen                     // A single trial call is allowed.
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Breaker trips after a run of consecutive failures and stays open for a
// timeout measured from the last recorded failure. After the timeout exactly
// one trial call is let through; its outcome closes or reopens the circuit.
type Breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failures      int
	threshold     int
	timeout       time.Duration
	lastFailure   time.Time
	trialInFlight bool
	now           func() time.Time
	onChange      func(from, to BreakerState)
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithThreshold sets the consecutive failure count that opens the circuit.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithTimeout sets how long the circuit stays open after the last failure.
func WithTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithClock sets a custom clock (for testing).
func WithClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = fn }
}

// WithStateChange registers a hook called on every transition, with the
// breaker lock held. The hook must not call back into the breaker.
func WithStateChange(fn func(from, to BreakerState)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a breaker: 5 failures to open, 60s open timeout.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:     BreakerClosed,
		threshold: 5,
		timeout:   60 * time.Second,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// IsOpen reports whether calls are currently short-circuited by an open circuit.
func (b *Breaker) IsOpen() bool { return b.State() == BreakerOpen }

// Allow reports whether a call may proceed. In half-open state only the
// first caller gets through until its result is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure run and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
}

// RecordFailure extends the failure run. A failed trial reopens the circuit
// for another full timeout; failures while open push the timeout out.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.failures++
	b.trialInFlight = false
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	b.transition(BreakerClosed)
}

// must be called with mu held
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.timeout {
		b.trialInFlight = false
		b.transition(BreakerHalfOpen)
	}
}

// must be called with mu held
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
