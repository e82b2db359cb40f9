package termcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/termguard/libs/go/core/resilience"
)

// DefaultInterval is the scheduled refresh period.
const DefaultInterval = 5 * time.Minute

// Options tune the refresh controller. Zero values take defaults.
type Options struct {
	Interval        time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	// OnRefresh runs after every successful refresh with the resulting status.
	OnRefresh func(ctx context.Context, st Status)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 200 * time.Millisecond
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = time.Minute
	}
	return o
}

// Controller owns when the cache is rebuilt: once at start, on a fixed interval, and
// on demand. All paths go through Cache.RebuildFrom and share its writer mutex.
type Controller struct {
	cache  *Cache
	source WordSource
	opts   Options
	cron   *cron.Cron
	log    *slog.Logger

	mu      sync.Mutex
	started bool
	entry   cron.EntryID
}

// NewController wires cache to src. The source is wrapped with retry and a circuit
// breaker so an unreachable store fails fast instead of stalling every refresh.
func NewController(cache *Cache, src WordSource, opts Options) *Controller {
	opts = opts.withDefaults()
	log := slog.Default().With("component", "refresh-controller")
	return &Controller{
		cache: cache,
		source: &guardedSource{
			src:      src,
			breaker:  resilience.NewCircuitBreaker(opts.BreakerFailures, opts.BreakerCooldown),
			attempts: opts.RetryAttempts,
			delay:    opts.RetryDelay,
		},
		opts: opts,
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log}))),
		log:  log,
	}
}

// Start performs a best-effort initial refresh and schedules periodic refreshes.
// A failed initial refresh leaves the cache on its fail-open fallback.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.refresh(ctx, "startup"); err != nil {
		c.log.Warn("startup refresh failed", "error", err)
	}
	c.entry = c.cron.Schedule(every(c.opts.Interval), cron.FuncJob(func() {
		if err := c.refresh(context.Background(), "scheduled"); err != nil {
			c.log.Warn("scheduled refresh failed", "error", err)
		}
	}))
	c.cron.Start()
	c.started = true
	c.log.Info("refresh controller started", "interval", c.opts.Interval.String())
	return nil
}

// Stop halts the schedule and waits for a running refresh or ctx, whichever is first.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	c.cron.Remove(c.entry)
	stopCtx := c.cron.Stop()
	select {
	case <-stopCtx.Done():
		c.log.Info("refresh controller stopped")
		return nil
	case <-ctx.Done():
		c.log.Warn("refresh controller stop timeout")
		return ctx.Err()
	}
}

// RefreshNow rebuilds synchronously.
func (c *Controller) RefreshNow(ctx context.Context) error {
	return c.refresh(ctx, "manual")
}

// Status reports the cache state.
func (c *Controller) Status() Status { return c.cache.Status() }

func (c *Controller) refresh(ctx context.Context, trigger string) error {
	start := time.Now()
	err := c.cache.RebuildFrom(ctx, c.source)
	if err != nil {
		return err
	}
	st := c.cache.Status()
	c.log.Debug("refresh complete", "trigger", trigger, "patterns", st.PatternCount,
		"generation", st.Generation, "elapsed_ms", time.Since(start).Milliseconds())
	if c.opts.OnRefresh != nil {
		c.opts.OnRefresh(ctx, st)
	}
	return nil
}

type guardedSource struct {
	src      WordSource
	breaker  *resilience.CircuitBreaker
	attempts int
	delay    time.Duration
}

func (g *guardedSource) ListEnabledTerms(ctx context.Context) ([]string, error) {
	if !g.breaker.Allow() {
		return nil, ErrSourceUnavailable
	}
	terms, err := resilience.Retry(ctx, g.attempts, g.delay, g.src.ListEnabledTerms)
	g.breaker.RecordResult(err == nil)
	return terms, err
}

// every is a fixed-delay cron schedule without the one-second floor of cron.Every.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.log.Debug(msg, kv...) }
func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, kv...)...)
}
