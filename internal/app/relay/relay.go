// Package relay hands persisted progress updates to the fan-out layer. It is
// strictly best effort: a failure to relay never propagates to the worker
// that produced the update.
package relay

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

var _ progress.Notifier = (*Relay)(nil)

// EventTypeFor maps an update to the bus event that carries it.
func EventTypeFor(t progress.UpdateType) events.EventType {
	switch t {
	case progress.UpdateTaskCompleted:
		return events.EventTypeTaskCompleted
	case progress.UpdateTaskFailed:
		return events.EventTypeTaskFailed
	default:
		return events.EventTypeTaskProgressed
	}
}

// Relay publishes updates on the event bus keyed by task id so that all
// updates for one task keep their order through the transport. Notify only
// queues; a single sender goroutine publishes, so a slow or unreachable bus
// never stalls the worker that reported the update.
type Relay struct {
	publisher events.DomainEventPublisher
	metrics   Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan queuedUpdate
	done   chan struct{}

	logger *logger.Logger
	tracer trace.Tracer
}

type queuedUpdate struct {
	ctx    context.Context
	update progress.Update
}

// Option configures a Relay.
type Option func(*Relay)

// WithBuffer sets how many updates may wait for the sender.
func WithBuffer(size int) Option {
	return func(r *Relay) {
		if size > 0 {
			r.queue = make(chan queuedUpdate, size)
		}
	}
}

// New creates a Relay that publishes through publisher and starts its sender.
func New(
	publisher events.DomainEventPublisher,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Relay {
	r := &Relay{
		publisher: publisher,
		metrics:   metrics,
		queue:     make(chan queuedUpdate, defaultQueueSize),
		done:      make(chan struct{}),
		logger:    logger.With("component", "update_relay"),
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.run()
	return r
}

// Notify validates u and queues it for publishing. Invalid updates, updates
// arriving after Close, and updates that find the queue full are counted and
// dropped.
func (r *Relay) Notify(ctx context.Context, u progress.Update) {
	if err := u.Validate(); err != nil {
		r.metrics.IncUpdatesDropped(ctx, DropReasonInvalid)
		r.logger.Warn(ctx, "Dropping invalid update", "task_id", u.TaskID, "error", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.metrics.IncUpdatesDropped(ctx, DropReasonClosed)
		return
	}

	select {
	case r.queue <- queuedUpdate{ctx: context.WithoutCancel(ctx), update: u}:
	default:
		r.metrics.IncUpdatesDropped(ctx, DropReasonQueueFull)
		r.logger.Warn(ctx, "Relay queue full, dropping update", "task_id", u.TaskID, "type", u.Type)
	}
}

// Close stops accepting updates and waits for queued ones to be published or
// for ctx to end.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) run() {
	defer close(r.done)
	for q := range r.queue {
		r.publish(q.ctx, q.update)
	}
}

func (r *Relay) publish(ctx context.Context, u progress.Update) {
	ctx, span := r.tracer.Start(ctx, "update_relay.publish",
		trace.WithAttributes(
			attribute.String("task_id", u.TaskID),
			attribute.String("type", string(u.Type)),
		))
	defer span.End()

	evt := events.DomainEvent{
		Type:      EventTypeFor(u.Type),
		Key:       u.TaskID,
		Timestamp: u.Timestamp,
		Payload:   u,
	}
	if err := r.publisher.PublishDomainEvent(ctx, evt, events.WithKey(u.TaskID)); err != nil {
		err = fmt.Errorf("%w: %w", progress.ErrBroadcastUnreachable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish update")
		r.metrics.IncUpdatesDropped(ctx, DropReasonPublish)
		r.logger.Error(ctx, "Failed to relay update", "task_id", u.TaskID, "type", u.Type, "error", err)
		return
	}

	span.AddEvent("update_relayed")
	r.metrics.IncUpdatesRelayed(ctx, string(u.Type))
}
