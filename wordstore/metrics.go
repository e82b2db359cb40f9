package wordstore

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/termguard/libs/go/core/otelinit"
)

type instruments struct {
	driver       attribute.KeyValue
	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

func newInstruments(driver string) instruments {
	meter := otelinit.Meter()
	readLatency, _ := meter.Float64Histogram("termguard_store_read_ms")
	writeLatency, _ := meter.Float64Histogram("termguard_store_write_ms")
	return instruments{
		driver:       attribute.String("driver", driver),
		readLatency:  readLatency,
		writeLatency: writeLatency,
	}
}

func (i instruments) read(ctx context.Context, op string, start time.Time) {
	i.readLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(i.driver, attribute.String("operation", op)))
}

func (i instruments) write(ctx context.Context, op string, start time.Time) {
	i.writeLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(i.driver, attribute.String("operation", op)))
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Term != entries[b].Term {
			return entries[a].Term < entries[b].Term
		}
		return entries[a].ID < entries[b].ID
	})
}
