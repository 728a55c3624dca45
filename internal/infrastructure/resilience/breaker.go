// Package resilience provides the circuit breaker, token bucket and retry policy
// shared by every adapter and by the gateway.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs and metrics.
	Name string
	// Threshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	Threshold int
	// CoolDown is how long the circuit stays open before probing.
	// Default: 30s
	CoolDown time.Duration
	// HalfOpenProbes is the number of probe calls admitted per half-open cycle.
	// Default: 1
	HalfOpenProbes int
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	State    State
	Failures int
	OpenedAt time.Time
}

// CircuitBreaker counts consecutive failures and opens once they reach the threshold.
// After the cool-down it moves to half-open and admits up to HalfOpenProbes probes;
// a probe success closes it, a probe failure reopens it.
//
// Thread Safety: Safe for concurrent use. A single mutex guards counter and state.
type CircuitBreaker struct {
	config BreakerConfig

	mu             sync.Mutex
	state          State
	failures       int
	openedAt       time.Time
	halfOpenSince  time.Time
	probesAdmitted int
}

// NewCircuitBreaker creates a breaker, filling zero config fields with defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{config: cfg}
}

// Allow reports whether a call may proceed.
// In half-open state each true result consumes one probe slot. Probe slots are
// refilled when a whole cool-down passes without a probe reporting back.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := b.allowLocked()
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

func (b *CircuitBreaker) allowLocked() bool {
	now := b.config.Now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.config.CoolDown {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenSince = now
		b.probesAdmitted = 0
	}

	// half-open
	if now.Sub(b.halfOpenSince) >= b.config.CoolDown {
		b.halfOpenSince = now
		b.probesAdmitted = 0
	}
	if b.probesAdmitted < b.config.HalfOpenProbes {
		b.probesAdmitted++
		return true
	}
	return false
}

// OnSuccess records a successful call. A success closes a half-open circuit
// and always resets the failure counter.
func (b *CircuitBreaker) OnSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probesAdmitted = 0
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// OnFailure records a failed call.
func (b *CircuitBreaker) OnFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.tripLocked()
	case StateClosed:
		if b.failures >= b.config.Threshold {
			b.tripLocked()
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *CircuitBreaker) tripLocked() {
	b.state = StateOpen
	b.openedAt = b.config.Now()
	b.probesAdmitted = 0
}

// State returns the current state without advancing it.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state, failure count and last open time.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:    b.state,
		Failures: b.failures,
		OpenedAt: b.openedAt,
	}
}

// Reset closes the circuit and clears the counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probesAdmitted = 0
	b.openedAt = time.Time{}
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// Name returns the configured name.
func (b *CircuitBreaker) Name() string {
	return b.config.Name
}

func (b *CircuitBreaker) notify(from, to State) {
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}
