package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Instrument names exported for the stats sink
const (
	MetricConnections = "fileserver.connections"
	MetricRequests    = "fileserver.requests"
	MetricBytesSent   = "fileserver.bytes_sent"
	MetricRejected    = "fileserver.rejected"
	MetricActive      = "fileserver.connections.active"
	MetricPeak        = "fileserver.connections.peak"
)

// RegisterStats exposes source as observable instruments on meter. The
// snapshot is taken once per collection, so servers never call into the
// metrics SDK on their hot path.
func RegisterStats(meter metric.Meter, source StatsSource) (metric.Registration, error) {
	connections, err := meter.Int64ObservableCounter(MetricConnections,
		metric.WithDescription("Accepted connections"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64ObservableCounter(MetricRequests,
		metric.WithDescription("Answered requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	sent, err := meter.Int64ObservableCounter(MetricBytesSent,
		metric.WithDescription("Bytes accepted by client sockets"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64ObservableCounter(MetricRejected,
		metric.WithDescription("Connections refused for lack of capacity"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64ObservableUpDownCounter(MetricActive,
		metric.WithDescription("Connections currently held"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	peak, err := meter.Int64ObservableGauge(MetricPeak,
		metric.WithDescription("Highest number of connections held at once"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := source.Snapshot()
		o.ObserveInt64(connections, int64(s.Connections))
		o.ObserveInt64(requests, int64(s.Requests))
		o.ObserveInt64(sent, int64(s.BytesSent))
		o.ObserveInt64(rejected, int64(s.Rejected))
		o.ObserveInt64(active, s.Active)
		o.ObserveInt64(peak, s.Peak)
		return nil
	}, connections, requests, sent, rejected, active, peak)
}
