package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

// RateLimiter is a token bucket refilled lazily on each check.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	fillRate   float64 // tokens per second
	available  float64
	lastRefill time.Time
	nowFn      func() time.Time
}

// NewRateLimiter creates a full bucket of capacity tokens refilled at fillRate per second.
func NewRateLimiter(capacity int64, fillRate float64) *RateLimiter {
	return newRateLimiterAt(capacity, fillRate, time.Now)
}

func newRateLimiterAt(capacity int64, fillRate float64, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		capacity:   float64(capacity),
		fillRate:   fillRate,
		available:  float64(capacity),
		lastRefill: now(),
		nowFn:      now,
	}
}

// Allow consumes one token if available.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.available >= 1 {
		r.available--
		return true
	}
	counter, _ := otel.GetMeterProvider().Meter("termguard").Int64Counter("termguard_ratelimiter_drops_total")
	counter.Add(context.Background(), 1)
	return false
}

// RetryAfter returns how long until one token is available.
func (r *RateLimiter) RetryAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.available >= 1 || r.fillRate <= 0 {
		return 0
	}
	return time.Duration((1 - r.available) / r.fillRate * float64(time.Second))
}

func (r *RateLimiter) refill() {
	now := r.nowFn()
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.available += elapsed * r.fillRate
	if r.available > r.capacity {
		r.available = r.capacity
	}
	r.lastRefill = now
}
