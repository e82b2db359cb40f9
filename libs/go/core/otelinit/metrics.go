package otelinit

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
)

// ExportInterval is how often metrics are pushed to the collector.
const ExportInterval = 10 * time.Second

// Meter returns the termguard meter from the global provider.
func Meter() metric.Meter { return otel.Meter(Name) }

// InitMetrics installs a periodic OTLP gRPC push exporter. On failure the no-op
// provider stays and a no-op shutdown is returned.
func InitMetrics(ctx context.Context, service string) func(context.Context) error {
	if Disabled() {
		return noopShutdown
	}
	ep := endpoint("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(ep),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return noopShutdown
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(ExportInterval))),
		sdkmetric.WithResource(serviceResource(service)),
	)
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", ep)
	return mp.Shutdown
}
