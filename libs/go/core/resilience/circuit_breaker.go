package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

// BreakerState is the externally visible breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after a run of consecutive failures and lets a single probe
// through once the cool-down has elapsed.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration
	nowFn            func() time.Time

	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreaker returns a closed breaker. A threshold <= 0 disables opening.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		nowFn:            time.Now,
	}
}

// Allow reports whether a call may proceed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateOpen:
		if c.nowFn().Sub(c.openedAt) < c.cooldown {
			return false
		}
		c.state = StateHalfOpen
		c.probeInFlight = true
		return true
	case StateHalfOpen:
		if c.probeInFlight {
			return false
		}
		c.probeInFlight = true
		return true
	}
	return true
}

// RecordResult feeds the outcome of an allowed call back into the breaker.
func (c *CircuitBreaker) RecordResult(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.state = StateClosed
		c.failures = 0
		c.probeInFlight = false
		return
	}
	switch c.state {
	case StateHalfOpen:
		c.open()
	case StateClosed:
		c.failures++
		if c.failureThreshold > 0 && c.failures >= c.failureThreshold {
			c.open()
		}
	}
}

// State returns the current state without side effects.
func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) open() {
	c.state = StateOpen
	c.openedAt = c.nowFn()
	c.probeInFlight = false
	counter, _ := otel.GetMeterProvider().Meter("termguard").Int64Counter("termguard_resilience_circuit_open_total")
	counter.Add(context.Background(), 1)
}
