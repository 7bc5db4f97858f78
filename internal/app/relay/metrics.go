package relay

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks how many updates reach the fan-out layer.
type Metrics interface {
	IncUpdatesRelayed(ctx context.Context, updateType string)
	IncUpdatesDropped(ctx context.Context, reason string)
}

// Drop reasons.
const (
	DropReasonInvalid   = "invalid"
	DropReasonPublish   = "publish"
	DropReasonQueueFull = "queue_full"
	DropReasonClosed    = "closed"
	DropReasonDelivery  = "delivery"
)

type relayMetrics struct {
	updatesRelayed metric.Int64Counter
	updatesDropped metric.Int64Counter
}

const namespace = "relay"

// NewMetrics creates relay metrics backed by mp.
func NewMetrics(mp metric.MeterProvider) (*relayMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(relayMetrics)
	var err error

	if m.updatesRelayed, err = meter.Int64Counter(
		"updates_relayed_total",
		metric.WithDescription("Total number of progress updates handed to the fan-out layer"),
	); err != nil {
		return nil, err
	}

	if m.updatesDropped, err = meter.Int64Counter(
		"updates_dropped_total",
		metric.WithDescription("Total number of progress updates dropped before reaching observers"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *relayMetrics) IncUpdatesRelayed(ctx context.Context, updateType string) {
	m.updatesRelayed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", updateType)))
}

func (m *relayMetrics) IncUpdatesDropped(ctx context.Context, reason string) {
	m.updatesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
