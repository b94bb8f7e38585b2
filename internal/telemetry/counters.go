package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counters is the fixed set of weft counters. Instruments created against
// the no-op provider record nothing, so callers never branch on Enabled.
type Counters struct {
	EventsAppended       metric.Int64Counter
	Flushes              metric.Int64Counter
	FlushFailures        metric.Int64Counter
	ReservationConflicts metric.Int64Counter
	RelayRetries         metric.Int64Counter
	RelayRestarts        metric.Int64Counter
}

// NewCounters creates the counter set against the installed meter provider.
func NewCounters() *Counters {
	m := Meter(instrumentationScope)
	c := &Counters{}
	c.EventsAppended, _ = m.Int64Counter("weft.events.appended",
		metric.WithDescription("Domain events appended to the project log"))
	c.Flushes, _ = m.Int64Counter("weft.flush.count",
		metric.WithDescription("JSONL export flushes performed"))
	c.FlushFailures, _ = m.Int64Counter("weft.flush.failures",
		metric.WithDescription("JSONL export flushes that failed"))
	c.ReservationConflicts, _ = m.Int64Counter("weft.reservations.conflicts",
		metric.WithDescription("Reservation requests denied due to an overlapping lease"))
	c.RelayRetries, _ = m.Int64Counter("weft.relay.retries",
		metric.WithDescription("Relay calls retried after a transient failure"))
	c.RelayRestarts, _ = m.Int64Counter("weft.relay.restarts",
		metric.WithDescription("Relay process restarts attempted by the health monitor"))
	return c
}

// Add increments a counter with optional attributes, tolerating a nil
// receiver so wiring stays optional in library code.
func Add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}
