package natsctx

import (
	"context"
	"testing"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

type capturePublisher struct{ msgs []*nats.Msg }

func (c *capturePublisher) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestPublishPropagatesTraceparent(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	pub := &capturePublisher{}
	if err := Publish(ctx, pub, "termguard.test", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.msgs))
	}
	m := pub.msgs[0]
	if m.Subject != "termguard.test" || string(m.Data) != "x" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.Header.Get("traceparent") == "" {
		t.Fatalf("traceparent header missing: %v", m.Header)
	}

	got, span := startConsumerSpan(m)
	defer span.End()
	if trace.SpanContextFromContext(got).TraceID() != tid {
		t.Fatalf("trace id not extracted")
	}
}
