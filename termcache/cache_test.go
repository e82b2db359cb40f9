package termcache

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func staticSource(terms ...string) WordSource {
	return WordSourceFunc(func(context.Context) ([]string, error) { return terms, nil })
}

func failingSource(err error) WordSource {
	return WordSourceFunc(func(context.Context) ([]string, error) { return nil, err })
}

func TestActiveBeforeFirstBuildPassesEverything(t *testing.T) {
	c := New()
	snap := c.Active()
	if snap == nil || snap.Automaton == nil {
		t.Fatalf("active snapshot must never be nil")
	}
	if res := c.Detect("anything at all"); !res.Passed {
		t.Fatalf("uninitialized cache must pass: %+v", res)
	}
	st := c.Status()
	if st.Initialized || st.SnapshotAvailable || st.State() != "uninitialized" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRebuildPublishesSnapshot(t *testing.T) {
	c := New()
	if err := c.RebuildFrom(context.Background(), staticSource("转账", "账号", " 转账 ")); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	res := c.Detect("请问转账限额")
	if res.Passed || !reflect.DeepEqual(res.MatchedTerms, []string{"转账"}) {
		t.Fatalf("unexpected result %+v", res)
	}
	st := c.Status()
	if !st.Initialized || !st.SnapshotAvailable || st.Degraded || st.PatternCount != 2 || st.Generation != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestColdStartFailureInstallsFallback(t *testing.T) {
	c := New()
	boom := errors.New("store unreachable")
	err := c.RebuildFrom(context.Background(), failingSource(boom))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
	st := c.Status()
	if !st.Initialized || !st.SnapshotAvailable || !st.Degraded || st.PatternCount != 0 {
		t.Fatalf("expected fail-open fallback, got %+v", st)
	}
	if st.LastError == "" || st.State() != "degraded" {
		t.Fatalf("failure must be recorded: %+v", st)
	}
	if !c.Detect("anything").Passed {
		t.Fatalf("fallback must pass all text")
	}
}

func TestFailureKeepsPreviousSnapshot(t *testing.T) {
	c := New()
	ctx := context.Background()
	if err := c.RebuildFrom(ctx, staticSource("secret")); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	before := c.Active()
	if err := c.RebuildFrom(ctx, failingSource(errors.New("io error"))); err == nil {
		t.Fatalf("expected error")
	}
	if c.Active() != before {
		t.Fatalf("failed rebuild must not replace the snapshot")
	}
	if !c.Contains("top SECRET") {
		t.Fatalf("previous terms must still match")
	}
	if !c.Status().Degraded {
		t.Fatalf("status must report degraded")
	}
	if err := c.RebuildFrom(ctx, staticSource("secret", "other")); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if c.Status().Degraded {
		t.Fatalf("successful rebuild clears degraded")
	}
}

func TestUnchangedTermSetKeepsSnapshot(t *testing.T) {
	c := New()
	ctx := context.Background()
	if err := c.RebuildFrom(ctx, staticSource("a", "b", "c")); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	first := c.Active()
	if err := c.RebuildFrom(ctx, staticSource("C", "b", "a", "a")); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if c.Active() != first {
		t.Fatalf("reordered identical set must not publish a new snapshot")
	}
	if st := c.Status(); st.RefreshCount != 2 || st.Generation != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestReadAfterRebuildSeesNewSnapshot(t *testing.T) {
	c := New()
	ctx := context.Background()
	for i, term := range []string{"one", "two", "three"} {
		if err := c.RebuildFrom(ctx, staticSource(term)); err != nil {
			t.Fatalf("rebuild: %v", err)
		}
		snap := c.Active()
		if snap.Generation != uint64(i+1) || !snap.Contains(term) {
			t.Fatalf("generation %d does not reflect %q", snap.Generation, term)
		}
	}
}

// Readers running during rebuilds must always see one complete term set.
func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := New()
	ctx := context.Background()
	setA := []string{"alpha", "apple", "avocado"}
	setB := []string{"beta", "banana"}
	if err := c.RebuildFrom(ctx, staticSource(setA...)); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	text := "alpha apple avocado beta banana"
	wantA := setA
	wantB := setB

	stop := make(chan struct{})
	var readers sync.WaitGroup
	var bad atomic.Int64
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := c.Detect(text).MatchedTerms
				if !reflect.DeepEqual(got, wantA) && !reflect.DeepEqual(got, wantB) {
					bad.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		terms := setA
		if i%2 == 0 {
			terms = setB
		}
		if err := c.RebuildFrom(ctx, staticSource(terms...)); err != nil {
			t.Fatalf("rebuild: %v", err)
		}
	}
	close(stop)
	readers.Wait()
	if n := bad.Load(); n != 0 {
		t.Fatalf("%d reads observed a mixed snapshot", n)
	}
}

func TestRebuildsAreSerialized(t *testing.T) {
	c := New()
	var inFlight, maxInFlight atomic.Int64
	var calls atomic.Int64
	src := WordSourceFunc(func(context.Context) ([]string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		return []string{"x", string(rune('a' + calls.Add(1)%26))}, nil
	})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.RebuildFrom(context.Background(), src)
		}()
	}
	wg.Wait()
	if maxInFlight.Load() != 1 {
		t.Fatalf("rebuilds overlapped: max in flight %d", maxInFlight.Load())
	}
}

func TestOldSnapshotStaysUsable(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.RebuildFrom(ctx, staticSource("old"))
	held := c.Active()
	_ = c.RebuildFrom(ctx, staticSource("new"))
	if !held.Contains("old news") || held.Contains("new only") {
		t.Fatalf("held snapshot must keep its own term set")
	}
	if !c.Contains("new only") {
		t.Fatalf("active snapshot must be the new one")
	}
}

func TestStatusPairsSnapshotWithMetadata(t *testing.T) {
	c := New()
	ctx := context.Background()
	const rounds = 200

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			st := c.Status()
			// every rebuild publishes a new term set, so generation tracks refresh count
			if st.Generation != uint64(st.RefreshCount) || st.PatternCount != int(st.Generation) {
				t.Errorf("torn status: generation=%d refreshes=%d patterns=%d",
					st.Generation, st.RefreshCount, st.PatternCount)
				return
			}
		}
	}()

	terms := make([]string, 0, rounds)
	for i := 0; i < rounds; i++ {
		terms = append(terms, "term"+strconv.Itoa(i))
		if err := c.RebuildFrom(ctx, staticSource(terms...)); err != nil {
			t.Fatalf("rebuild %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
}
