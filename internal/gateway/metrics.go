package gateway

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics defines the metrics collected by the fan-out gateway.
type GatewayMetrics interface {
	// Connection metrics.
	IncConnectedObservers(ctx context.Context)
	DecConnectedObservers(ctx context.Context)
	SetConnectedObservers(ctx context.Context, count int)
	IncSlowObserverDisconnects(ctx context.Context)

	// Message metrics.
	IncMessagesSent(ctx context.Context, messageType string)
	IncMessagesReceived(ctx context.Context, messageType string)
	IncTranslationErrors(ctx context.Context, direction string)
}

type gatewayMetrics struct {
	connectedObservers metric.Int64UpDownCounter
	observerGauge      metric.Int64Gauge
	slowDisconnects    metric.Int64Counter
	messagesSent       metric.Int64Counter
	messagesReceived   metric.Int64Counter
	translationErrors  metric.Int64Counter
}

const namespace = "gateway"

// NewMetrics creates gateway metrics backed by mp.
func NewMetrics(mp metric.MeterProvider) (*gatewayMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(gatewayMetrics)
	var err error

	if m.connectedObservers, err = meter.Int64UpDownCounter(
		"connected_observers",
		metric.WithDescription("Number of observers currently connected"),
	); err != nil {
		return nil, err
	}

	if m.observerGauge, err = meter.Int64Gauge(
		"observers_registered",
		metric.WithDescription("Observers held by the hub after the last change"),
	); err != nil {
		return nil, err
	}

	if m.slowDisconnects, err = meter.Int64Counter(
		"slow_observer_disconnects_total",
		metric.WithDescription("Observers dropped because their send buffer was full"),
	); err != nil {
		return nil, err
	}

	if m.messagesSent, err = meter.Int64Counter(
		"messages_sent_total",
		metric.WithDescription("Total number of messages broadcast to observers"),
	); err != nil {
		return nil, err
	}

	if m.messagesReceived, err = meter.Int64Counter(
		"messages_received_total",
		metric.WithDescription("Total number of messages received from the event bus"),
	); err != nil {
		return nil, err
	}

	if m.translationErrors, err = meter.Int64Counter(
		"translation_errors_total",
		metric.WithDescription("Total number of events that could not be encoded for observers"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *gatewayMetrics) IncConnectedObservers(ctx context.Context) {
	m.connectedObservers.Add(ctx, 1)
}

func (m *gatewayMetrics) DecConnectedObservers(ctx context.Context) {
	m.connectedObservers.Add(ctx, -1)
}

func (m *gatewayMetrics) SetConnectedObservers(ctx context.Context, count int) {
	m.observerGauge.Record(ctx, int64(count))
}

func (m *gatewayMetrics) IncSlowObserverDisconnects(ctx context.Context) {
	m.slowDisconnects.Add(ctx, 1)
}

func (m *gatewayMetrics) IncMessagesSent(ctx context.Context, messageType string) {
	m.messagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", messageType)))
}

func (m *gatewayMetrics) IncMessagesReceived(ctx context.Context, messageType string) {
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", messageType)))
}

func (m *gatewayMetrics) IncTranslationErrors(ctx context.Context, direction string) {
	m.translationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}
