package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestRateLimiterRefill(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	rl := newRateLimiterAt(3, 1, clk.now)
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("expected allow %d", i)
		}
	}
	if rl.Allow() {
		t.Fatalf("expected deny after capacity")
	}
	if d := rl.RetryAfter(); d != time.Second {
		t.Fatalf("retry after = %v, want 1s", d)
	}
	clk.advance(1100 * time.Millisecond)
	if !rl.Allow() {
		t.Fatalf("expected allow after refill")
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker(3, time.Minute)
	cb.nowFn = clk.now
	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("closed breaker should allow")
		}
		cb.RecordResult(false)
	}
	if cb.State() != StateOpen || cb.Allow() {
		t.Fatalf("breaker should be open, state=%v", cb.State())
	}
	clk.advance(time.Minute)
	if !cb.Allow() {
		t.Fatalf("half-open probe should be allowed")
	}
	if cb.Allow() {
		t.Fatalf("only one probe at a time")
	}
	cb.RecordResult(true)
	if cb.State() != StateClosed || !cb.Allow() {
		t.Fatalf("successful probe should close the breaker")
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker(1, time.Second)
	cb.nowFn = clk.now
	cb.Allow()
	cb.RecordResult(false)
	clk.advance(time.Second)
	if !cb.Allow() {
		t.Fatalf("probe should be allowed")
	}
	cb.RecordResult(false)
	if cb.State() != StateOpen {
		t.Fatalf("failed probe should reopen, got %v", cb.State())
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), 5, time.Millisecond, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || v != 42 || calls != 3 {
		t.Fatalf("v=%d err=%v calls=%d", v, err, calls)
	}
}

func TestRetryPermanentShortCircuits(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0
	_, err := Retry(context.Background(), 5, time.Millisecond, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, 3, time.Second, func(context.Context) (int, error) {
		return 0, errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
