// Package termcache holds the active term automaton behind an atomically replaceable
// snapshot and rebuilds it from a word source without ever blocking readers.
package termcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/termguard/libs/go/core/otelinit"
	"github.com/swarmguard/termguard/matcher"
)

// ErrSourceUnavailable is returned when the word source is short-circuited.
var ErrSourceUnavailable = errors.New("termcache: word source unavailable")

// WordSource supplies the current list of enabled terms.
type WordSource interface {
	ListEnabledTerms(ctx context.Context) ([]string, error)
}

// WordSourceFunc adapts a function to WordSource.
type WordSourceFunc func(ctx context.Context) ([]string, error)

func (f WordSourceFunc) ListEnabledTerms(ctx context.Context) ([]string, error) { return f(ctx) }

// Snapshot is one published automaton. It is never mutated; holders may keep using
// it after a newer snapshot has been published.
type Snapshot struct {
	Automaton  *matcher.Automaton
	Generation uint64
	BuiltAt    time.Time
}

func (s *Snapshot) Detect(text string) matcher.DetectionResult { return s.Automaton.Detect(text) }
func (s *Snapshot) Contains(text string) bool                  { return s.Automaton.Contains(text) }

// Cache serves the active snapshot to any number of readers and serializes rebuilds.
type Cache struct {
	active atomic.Pointer[Snapshot]

	mu         sync.Mutex // single writer; never taken on the read path
	generation uint64

	metaMu sync.RWMutex
	meta   metadata

	log  *slog.Logger
	inst instruments
}

type metadata struct {
	initialized   bool
	available     bool
	degraded      bool
	refreshCount  int64
	failureCount  int64
	lastRefreshAt time.Time
	lastError     string
	buildDuration time.Duration
}

type instruments struct {
	rebuilds   metric.Int64Counter
	rebuildDur metric.Float64Histogram
	patterns   metric.Int64Gauge
}

// New returns a cache serving an empty automaton until the first rebuild.
func New() *Cache {
	meter := otelinit.Meter()
	rebuilds, _ := meter.Int64Counter("termguard_cache_rebuilds_total")
	rebuildDur, _ := meter.Float64Histogram("termguard_cache_rebuild_duration_seconds")
	patterns, _ := meter.Int64Gauge("termguard_cache_patterns_loaded")
	c := &Cache{
		log:  slog.Default().With("component", "termcache"),
		inst: instruments{rebuilds: rebuilds, rebuildDur: rebuildDur, patterns: patterns},
	}
	c.active.Store(&Snapshot{Automaton: matcher.Empty(), BuiltAt: time.Now()})
	return c
}

// Active returns the current snapshot. It never blocks and never returns nil.
func (c *Cache) Active() *Snapshot { return c.active.Load() }

// Detect scans text with the active snapshot.
func (c *Cache) Detect(text string) matcher.DetectionResult { return c.Active().Detect(text) }

// Contains reports whether text holds any term of the active snapshot.
func (c *Cache) Contains(text string) bool { return c.Active().Contains(text) }

// RebuildFrom loads the enabled terms from src, builds a new automaton and publishes
// it in one atomic store. On failure the previous snapshot keeps serving; if no
// snapshot was ever installed the empty fallback is installed instead. The error is
// returned to the caller only; readers never observe it.
func (c *Cache) RebuildFrom(ctx context.Context, src WordSource) error {
	ctx, span := otelinit.WithSpan(ctx, "termcache.rebuild")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	terms, err := src.ListEnabledTerms(ctx)
	if err != nil {
		err = fmt.Errorf("list enabled terms: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "source failed")
		c.fail(ctx, err)
		return err
	}
	ps := matcher.NewPatternSet(terms)
	empty, dups := ps.Dropped()
	invalid := ps.Invalid()

	if c.isAvailable() && c.Active().Automaton.Fingerprint() == ps.Fingerprint() {
		c.succeed(ctx, start, nil)
		c.log.Debug("term set unchanged; keeping snapshot", "patterns", ps.Len(), "generation", c.generation)
		span.SetAttributes(attribute.Bool("unchanged", true))
		return nil
	}

	auto, err := safeBuild(ps)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		c.fail(ctx, err)
		return err
	}
	c.generation++
	c.succeed(ctx, start, &Snapshot{Automaton: auto, Generation: c.generation, BuiltAt: time.Now()})
	c.inst.patterns.Record(ctx, int64(auto.PatternCount()))
	span.SetAttributes(
		attribute.Int("patterns", auto.PatternCount()),
		attribute.Int64("generation", int64(c.generation)),
	)
	c.log.Info("term snapshot published",
		"patterns", auto.PatternCount(),
		"nodes", auto.NodeCount(),
		"dropped_empty", empty,
		"dropped_duplicates", dups,
		"dropped_invalid", invalid,
		"generation", c.generation,
		"build_ms", auto.BuildDuration().Milliseconds(),
		"fingerprint", auto.Fingerprint(),
	)
	return nil
}

func safeBuild(ps matcher.PatternSet) (auto *matcher.Automaton, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build automaton: %v", r)
		}
	}()
	return matcher.Build(ps), nil
}

func (c *Cache) isAvailable() bool {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.meta.available
}

// succeed must be called with mu held. A nil snap keeps the active snapshot.
// The snapshot is stored under metaMu so Status never pairs it with stale metadata.
func (c *Cache) succeed(ctx context.Context, start time.Time, snap *Snapshot) {
	c.metaMu.Lock()
	if snap != nil {
		c.active.Store(snap)
		c.meta.buildDuration = snap.Automaton.BuildDuration()
	}
	c.meta.initialized = true
	c.meta.available = true
	c.meta.degraded = false
	c.meta.refreshCount++
	c.meta.lastRefreshAt = time.Now()
	c.meta.lastError = ""
	c.metaMu.Unlock()
	c.inst.rebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	c.inst.rebuildDur.Record(ctx, time.Since(start).Seconds())
}

// fail must be called with mu held.
func (c *Cache) fail(ctx context.Context, err error) {
	c.metaMu.Lock()
	coldStart := !c.meta.initialized
	c.meta.initialized = true
	c.meta.available = true
	c.meta.degraded = true
	c.meta.failureCount++
	c.meta.lastError = err.Error()
	if coldStart {
		c.generation++
		c.active.Store(&Snapshot{Automaton: matcher.Empty(), Generation: c.generation, BuiltAt: time.Now()})
	}
	c.metaMu.Unlock()
	c.inst.rebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failure")))

	if coldStart {
		c.log.Error("initial term load failed; serving empty fallback snapshot", "error", err)
		return
	}
	c.log.Warn("term rebuild failed; keeping previous snapshot",
		"error", err, "generation", c.generation)
}

// Status returns a point-in-time view of the cache. It does not mutate state.
func (c *Cache) Status() Status {
	c.metaMu.RLock()
	snap := c.Active()
	m := c.meta
	c.metaMu.RUnlock()
	return Status{
		Initialized:       m.initialized,
		PatternCount:      snap.Automaton.PatternCount(),
		SnapshotAvailable: m.available,
		Degraded:          m.degraded,
		Generation:        snap.Generation,
		Fingerprint:       snap.Automaton.Fingerprint(),
		RefreshCount:      m.refreshCount,
		FailureCount:      m.failureCount,
		LastRefreshAt:     m.lastRefreshAt,
		LastError:         m.lastError,
		BuildDurationMs:   m.buildDuration.Milliseconds(),
	}
}
