package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects signal writes.
var ErrCircuitOpen = errors.New("redis circuit open")

// State is the breaker state. Values are exported as the
// signal_engine_redis_circuit_state gauge.
type State int

const (
	StateClosed   State = 0
	StateOpen     State = 1
	StateHalfOpen State = 2
)

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

// BreakerConfig sets when the breaker trips and how long it stays open.
type BreakerConfig struct {
	MaxFailures int           // consecutive failed writes before opening (default 5)
	Cooldown    time.Duration // time open before a trial write is let through (default 10s)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	return c
}

// BreakerStats is a point-in-time view of the breaker.
type BreakerStats struct {
	State     State
	Failures  int // current run of consecutive failures
	Trips     int // times the breaker opened since creation
	OpenSince time.Time
}

// CircuitBreaker stops signal row writes from piling onto an unreachable
// Redis. It opens after MaxFailures consecutive failed writes and rejects
// writes for Cooldown. Then exactly one trial write is let through: success
// closes the breaker, failure reopens it for another Cooldown.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	trips     int
	openSince time.Time
	trial     bool

	// OnStateChange is called on every transition, under the breaker lock.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Execute runs write unless the breaker is open. While half-open, writes
// other than the single trial write are rejected with ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(write func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := write()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.trial = false
		if err != nil {
			cb.failures++
			cb.open()
			return err
		}
		cb.failures = 0
		cb.transition(StateClosed)
		return nil
	}

	if err != nil {
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.open()
		}
		return err
	}
	cb.failures = 0
	return nil
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openSince) < cb.cfg.Cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.trial = true
		return true
	case StateHalfOpen:
		if cb.trial {
			return false
		}
		cb.trial = true
		return true
	}
	return true
}

// open trips the breaker. Caller holds cb.mu.
func (cb *CircuitBreaker) open() {
	cb.openSince = cb.now()
	cb.trips++
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{State: cb.state, Failures: cb.failures, Trips: cb.trips, OpenSince: cb.openSince}
}
