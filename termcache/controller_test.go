package termcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestControllerStartBuildsAndSchedules(t *testing.T) {
	var calls atomic.Int64
	src := WordSourceFunc(func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"blocked"}, nil
	})
	cache := New()
	ctrl := NewController(cache, src, Options{Interval: 20 * time.Millisecond})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop(context.Background())

	if !cache.Contains("this is blocked") {
		t.Fatalf("startup refresh must have built the automaton")
	}
	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 3 })
	st := ctrl.Status()
	if !st.Initialized || st.PatternCount != 1 || st.RefreshCount < 3 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestControllerStartWithFailingSourceFailsOpen(t *testing.T) {
	cache := New()
	ctrl := NewController(cache, failingSource(errors.New("db down")), Options{
		Interval:      time.Hour,
		RetryAttempts: 1,
	})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start must be best-effort: %v", err)
	}
	defer ctrl.Stop(context.Background())
	st := ctrl.Status()
	if !st.Initialized || !st.Degraded || !st.SnapshotAvailable {
		t.Fatalf("expected degraded fallback, got %+v", st)
	}
	if !cache.Detect("anything").Passed {
		t.Fatalf("fallback must pass")
	}
}

func TestControllerRefreshNowPicksUpChanges(t *testing.T) {
	var terms atomic.Value
	terms.Store([]string{"first"})
	src := WordSourceFunc(func(context.Context) ([]string, error) {
		return terms.Load().([]string), nil
	})
	cache := New()
	ctrl := NewController(cache, src, Options{Interval: time.Hour})
	if err := ctrl.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	terms.Store([]string{"first", "second"})
	if err := ctrl.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !cache.Contains("the SECOND one") || ctrl.Status().PatternCount != 2 {
		t.Fatalf("manual refresh did not publish new terms: %+v", ctrl.Status())
	}
}

func TestControllerRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	src := WordSourceFunc(func(context.Context) ([]string, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []string{"ok"}, nil
	})
	ctrl := NewController(New(), src, Options{RetryAttempts: 3, RetryDelay: time.Millisecond})
	if err := ctrl.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh should succeed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestControllerBreakerFailsFast(t *testing.T) {
	var calls atomic.Int64
	src := WordSourceFunc(func(context.Context) ([]string, error) {
		calls.Add(1)
		return nil, errors.New("unreachable")
	})
	ctrl := NewController(New(), src, Options{
		RetryAttempts:   1,
		BreakerFailures: 1,
		BreakerCooldown: time.Hour,
	})
	ctx := context.Background()
	if err := ctrl.RefreshNow(ctx); err == nil || errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("first refresh should surface the source error, got %v", err)
	}
	if err := ctrl.RefreshNow(ctx); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("open breaker should fail fast, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("source called %d times", calls.Load())
	}
}

func TestControllerOnRefreshHook(t *testing.T) {
	var seen atomic.Int64
	ctrl := NewController(New(), staticSource("x", "y"), Options{
		OnRefresh: func(_ context.Context, st Status) { seen.Store(int64(st.PatternCount)) },
	})
	if err := ctrl.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if seen.Load() != 2 {
		t.Fatalf("hook saw %d patterns", seen.Load())
	}
}

func TestControllerStopIsIdempotent(t *testing.T) {
	ctrl := NewController(New(), staticSource("x"), Options{Interval: time.Hour})
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestControllerRestartKeepsOneSchedule(t *testing.T) {
	src := WordSourceFunc(func(context.Context) ([]string, error) { return []string{"x"}, nil })
	ctrl := NewController(New(), src, Options{Interval: time.Hour})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ctrl.Start(ctx); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if n := len(ctrl.cron.Entries()); n != 1 {
			t.Fatalf("start %d: %d scheduled entries, want 1", i, n)
		}
		if err := ctrl.Stop(ctx); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	if n := len(ctrl.cron.Entries()); n != 0 {
		t.Fatalf("entries after stop = %d", n)
	}
}
