package natsctx

import (
	"context"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publish injects the trace context of ctx into the message headers and publishes.
func Publish(ctx context.Context, nc Publisher, subject string, data []byte) error {
	return nc.PublishMsg(NewMsg(ctx, subject, data))
}

// NewMsg builds a message carrying the traceparent of ctx.
func NewMsg(ctx context.Context, subject string, data []byte) *nats.Msg {
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return &nats.Msg{Subject: subject, Data: data, Header: hdr}
}

// Subscribe wraps nc.Subscribe, extracting the trace context of each message and
// running handler inside a consumer span.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		ctx, span := startConsumerSpan(m)
		defer span.End()
		handler(ctx, m)
	})
}

func startConsumerSpan(m *nats.Msg) (context.Context, trace.Span) {
	ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
	return otel.Tracer("termguard-nats").Start(ctx, "nats.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination.name", m.Subject)),
	)
}
