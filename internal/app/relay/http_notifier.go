package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

// IngressPath is the server endpoint that accepts relayed updates.
const IngressPath = "/internal/broadcast-task-progress"

const defaultQueueSize = 256

var _ progress.Notifier = (*HTTPNotifier)(nil)

// HTTPNotifier relays updates from an out-of-process worker to the server's
// ingress endpoint. A single sender goroutine drains a bounded queue, so
// Notify never blocks and updates leave in the order they were queued.
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
	metrics  Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan progress.Update
	done   chan struct{}

	logger *logger.Logger
	tracer trace.Tracer
}

// HTTPNotifierOption configures an HTTPNotifier.
type HTTPNotifierOption func(*HTTPNotifier)

// WithHTTPClient overrides the client used to post updates.
func WithHTTPClient(c *http.Client) HTTPNotifierOption {
	return func(n *HTTPNotifier) { n.client = c }
}

// WithQueueSize sets how many updates may wait for delivery.
func WithQueueSize(size int) HTTPNotifierOption {
	return func(n *HTTPNotifier) {
		if size > 0 {
			n.queue = make(chan progress.Update, size)
		}
	}
}

// NewHTTPNotifier creates a notifier posting to baseURL and starts its sender.
func NewHTTPNotifier(
	baseURL string,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...HTTPNotifierOption,
) *HTTPNotifier {
	n := &HTTPNotifier{
		endpoint: strings.TrimRight(baseURL, "/") + IngressPath,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: metrics,
		queue:   make(chan progress.Update, defaultQueueSize),
		done:    make(chan struct{}),
		logger:  logger.With("component", "http_notifier"),
		tracer:  tracer,
	}
	for _, opt := range opts {
		opt(n)
	}

	go n.run()
	return n
}

// Notify queues u for delivery, dropping it when the queue is full.
func (n *HTTPNotifier) Notify(ctx context.Context, u progress.Update) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.metrics.IncUpdatesDropped(ctx, DropReasonClosed)
		return
	}

	select {
	case n.queue <- u:
	default:
		n.metrics.IncUpdatesDropped(ctx, DropReasonQueueFull)
		n.logger.Warn(ctx, "Relay queue full, dropping update", "task_id", u.TaskID, "type", u.Type)
	}
}

// Close stops accepting updates and waits for queued ones to be sent or for
// ctx to end.
func (n *HTTPNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *HTTPNotifier) run() {
	defer close(n.done)
	for u := range n.queue {
		ctx := context.Background()
		if err := n.send(ctx, u); err != nil {
			n.metrics.IncUpdatesDropped(ctx, DropReasonDelivery)
			n.logger.Error(ctx, "Failed to deliver update",
				"task_id", u.TaskID,
				"type", u.Type,
				"error", fmt.Errorf("%w: %w", progress.ErrBroadcastUnreachable, err),
			)
			continue
		}
		n.metrics.IncUpdatesRelayed(ctx, string(u.Type))
	}
}

func (n *HTTPNotifier) send(ctx context.Context, u progress.Update) error {
	ctx, span := n.tracer.Start(ctx, "http_notifier.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("task_id", u.TaskID),
			attribute.String("type", string(u.Type)),
		))
	defer span.End()

	body, err := json.Marshal(u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode update")
		return fmt.Errorf("encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusMultipleChoices {
		err := fmt.Errorf("ingress returned status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
