// Package notify connects the refresh controller to NATS: change events trigger a
// refresh and every published snapshot is announced.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/swarmguard/termguard/libs/go/core/natsctx"
	"github.com/swarmguard/termguard/termcache"
)

// ChangeEvent is the optional payload on the refresh subject.
type ChangeEvent struct {
	Reason string    `json:"reason,omitempty"`
	TermID string    `json:"term_id,omitempty"`
	At     time.Time `json:"at"`
}

// SnapshotEvent is published after each successful refresh.
type SnapshotEvent struct {
	Instance string           `json:"instance,omitempty"`
	Status   termcache.Status `json:"status"`
}

// Refresher is satisfied by *termcache.Controller.
type Refresher interface {
	RefreshNow(ctx context.Context) error
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// Notifier owns the refresh subscription and the snapshot announcements.
type Notifier struct {
	pub            natsctx.Publisher
	refreshSubject string
	publishSubject string
	instance       string
	log            *slog.Logger
	sub            *nats.Subscription
}

// New returns a notifier publishing through pub (usually a *nats.Conn).
func New(pub natsctx.Publisher, refreshSubject, publishSubject, instance string) *Notifier {
	return &Notifier{
		pub:            pub,
		refreshSubject: refreshSubject,
		publishSubject: publishSubject,
		instance:       instance,
		log:            slog.Default().With("component", "notify"),
	}
}

// Subscribe starts refreshing r on every change event.
func (n *Notifier) Subscribe(nc *nats.Conn, r Refresher) error {
	sub, err := natsctx.Subscribe(nc, n.refreshSubject, n.RefreshHandler(r))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.refreshSubject, err)
	}
	n.sub = sub
	n.log.Info("listening for term changes", "subject", n.refreshSubject)
	return nil
}

// RefreshHandler decodes a change event (an empty body is fine) and refreshes.
func (n *Notifier) RefreshHandler(r Refresher) func(context.Context, *nats.Msg) {
	return func(ctx context.Context, m *nats.Msg) {
		var ev ChangeEvent
		if len(m.Data) > 0 {
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				n.log.Warn("malformed change event; refreshing anyway", "error", err)
			}
		}
		if err := r.RefreshNow(ctx); err != nil {
			n.log.Warn("refresh on change event failed", "reason", ev.Reason, "error", err)
			return
		}
		n.log.Debug("refreshed on change event", "reason", ev.Reason, "term_id", ev.TermID)
	}
}

// PublishStatus announces st. Its signature matches termcache.Options.OnRefresh.
func (n *Notifier) PublishStatus(ctx context.Context, st termcache.Status) {
	if n.publishSubject == "" {
		return
	}
	data, err := json.Marshal(SnapshotEvent{Instance: n.instance, Status: st})
	if err != nil {
		n.log.Error("encode snapshot event", "error", err)
		return
	}
	if err := natsctx.Publish(ctx, n.pub, n.publishSubject, data); err != nil {
		n.log.Warn("publish snapshot event failed", "subject", n.publishSubject, "error", err)
	}
}

// AnnounceChange publishes a change event so every instance refreshes.
func (n *Notifier) AnnounceChange(ctx context.Context, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return natsctx.Publish(ctx, n.pub, n.refreshSubject, data)
}

// Close drops the refresh subscription.
func (n *Notifier) Close() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}
