package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "progress_api"

// APIMetrics defines metrics operations needed by the HTTP API.
type APIMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
	IncTasksSubmitted(ctx context.Context, count int)
	IncRetryRequests(ctx context.Context, outcome string)
	IncIngressUpdates(ctx context.Context, updateType string)
}

type apiMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	tasksSubmitted  metric.Int64Counter
	retryRequests   metric.Int64Counter
	ingressUpdates  metric.Int64Counter
}

// NewAPIMetrics creates APIMetrics backed by mp.
func NewAPIMetrics(mp metric.MeterProvider) (APIMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.tasksSubmitted, err = meter.Int64Counter(
		"tasks_submitted_total",
		metric.WithDescription("Total number of tasks queued through the API"),
	); err != nil {
		return nil, err
	}

	if m.retryRequests, err = meter.Int64Counter(
		"retry_requests_total",
		metric.WithDescription("Total number of retry requests by outcome"),
	); err != nil {
		return nil, err
	}

	if m.ingressUpdates, err = meter.Int64Counter(
		"ingress_updates_total",
		metric.WithDescription("Total number of progress updates received from remote workers"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncTasksSubmitted(ctx context.Context, count int) {
	m.tasksSubmitted.Add(ctx, int64(count))
}

func (m *apiMetrics) IncRetryRequests(ctx context.Context, outcome string) {
	m.retryRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *apiMetrics) IncIngressUpdates(ctx context.Context, updateType string) {
	m.ingressUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("type", updateType)))
}
