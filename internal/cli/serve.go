package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	nats "github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/swarmguard/termguard/internal/config"
	"github.com/swarmguard/termguard/internal/notify"
	"github.com/swarmguard/termguard/internal/server"
	"github.com/swarmguard/termguard/libs/go/core/otelinit"
	"github.com/swarmguard/termguard/libs/go/core/resilience"
	"github.com/swarmguard/termguard/querycheck"
	"github.com/swarmguard/termguard/termcache"
	"github.com/swarmguard/termguard/wordstore"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the check service with scheduled dictionary refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics := otelinit.InitMetrics(ctx, service)
	defer func() {
		otelinit.Flush(context.Background(), shutdownTrace)
		otelinit.Flush(context.Background(), shutdownMetrics)
	}()

	store, err := wordstore.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open term store: %w", err)
	}
	defer store.Close()

	policy, err := buildPolicy(ctx, cfg)
	if err != nil {
		return err
	}
	cache := termcache.New()
	checker := querycheck.NewService(cache, querycheck.Options{
		Enabled:  cfg.Enabled,
		FailMode: querycheck.FailMode(cfg.FailMode),
		Policy:   policy,
	})

	opts := server.Options{
		Checker: checker,
		Cache:   cache,
		Store:   store,
		Limiter: resilience.NewRateLimiter(cfg.Admin.RefreshBurst, cfg.Admin.RefreshPerSecond),
	}
	if cfg.Enabled {
		ctrl, cleanup, err := startRefresh(ctx, cfg, cache, store)
		if err != nil {
			return err
		}
		defer cleanup()
		opts.Controller = ctrl
	} else {
		slog.Info("term checking disabled; no snapshot will be built")
	}

	slog.Info("service started", "driver", cfg.Store.Driver, "enabled", cfg.Enabled, "fail_mode", cfg.FailMode)
	err = server.New(opts).ListenAndServe(ctx, cfg.HTTP.Addr, cfg.HTTP.ShutdownTimeout)
	slog.Info("shutdown complete")
	return err
}

// startRefresh wires the controller, NATS notifications and the file watcher. The
// returned cleanup stops them in reverse order.
func startRefresh(ctx context.Context, cfg *config.Config, cache *termcache.Cache, store wordstore.Store) (*termcache.Controller, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var nc *nats.Conn
	var notifier *notify.Notifier
	if cfg.NATS.URL != "" {
		conn, err := notify.Connect(cfg.NATS.URL, service)
		if err != nil {
			slog.Warn("nats unavailable; change notifications disabled", "error", err)
		} else {
			nc = conn
			notifier = notify.New(nc, cfg.NATS.RefreshSubject, cfg.NATS.PublishSubject, hostname())
			cleanups = append(cleanups, func() { _ = nc.Drain() })
		}
	}

	ctrlOpts := termcache.Options{
		Interval:        cfg.RefreshInterval,
		RetryAttempts:   cfg.Refresh.RetryAttempts,
		RetryDelay:      cfg.Refresh.RetryDelay,
		BreakerFailures: cfg.Refresh.BreakerFailures,
		BreakerCooldown: cfg.Refresh.BreakerCooldown,
	}
	if notifier != nil {
		ctrlOpts.OnRefresh = notifier.PublishStatus
	}
	ctrl := termcache.NewController(cache, store, ctrlOpts)
	if err := ctrl.Start(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = ctrl.Stop(stopCtx)
	})

	if notifier != nil {
		if err := notifier.Subscribe(nc, ctrl); err != nil {
			slog.Warn("change subscription failed", "error", err)
		} else {
			cleanups = append(cleanups, func() { _ = notifier.Close() })
		}
	}

	if fs, ok := store.(*wordstore.FileStore); ok && cfg.Store.Watch {
		w, err := wordstore.NewWatcher(fs.Path(), cfg.Store.Debounce)
		if err != nil {
			slog.Warn("file watch disabled", "error", err)
		} else {
			go func() {
				_ = w.Run(ctx, func(ctx context.Context) {
					if err := ctrl.RefreshNow(ctx); err != nil {
						slog.Warn("refresh on file change failed", "error", err)
					}
				})
			}()
		}
	}
	return ctrl, cleanup, nil
}

func buildPolicy(ctx context.Context, cfg *config.Config) (querycheck.Policy, error) {
	if cfg.Policy != "rego" {
		return querycheck.StaticPolicy{}, nil
	}
	p, err := querycheck.LoadRegoPolicy(ctx, cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
