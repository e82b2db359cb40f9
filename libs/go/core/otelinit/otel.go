// Package otelinit installs the OpenTelemetry providers shared by every termguard
// package. Instruments are created from the global providers, so code that runs
// before (or without) initialization records into no-ops.
package otelinit

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Name is the instrumentation scope of every termguard tracer and meter.
const Name = "termguard"

const defaultEndpoint = "localhost:4317"

func noopShutdown(context.Context) error { return nil }

// Disabled reports whether TERMGUARD_OTEL_DISABLED turns exporters off.
func Disabled() bool {
	v, _ := strconv.ParseBool(os.Getenv("TERMGUARD_OTEL_DISABLED"))
	return v
}

// endpoint returns the first non-empty variable among keys, or the local collector.
func endpoint(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return defaultEndpoint
}

func serviceResource(service string) *resource.Resource {
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	return res
}

// InitTracer installs a batching OTLP gRPC tracer provider and the W3C propagator.
// On failure the no-op provider stays and a no-op shutdown is returned.
func InitTracer(ctx context.Context, service string) func(context.Context) error {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if Disabled() {
		return noopShutdown
	}
	ep := endpoint("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(ep),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("trace exporter init failed", "error", err)
		return noopShutdown
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(serviceResource(service)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing initialized", "endpoint", ep)
	return tp.Shutdown
}

// Tracer returns the termguard tracer from the global provider.
func Tracer() oteltrace.Tracer { return otel.Tracer(Name) }

// WithSpan starts a span on the termguard tracer; callers must End it.
func WithSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Flush runs shutdown with a bounded deadline.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("telemetry flush failed", "error", err)
	}
}
