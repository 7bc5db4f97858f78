// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker for single instance
// deployments and tests where durability is not required.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

var _ events.EventBus = (*Broker)(nil)

type subscription struct {
	id      uint64
	handler events.HandlerFunc
}

type handlerList []subscription

// Broker provides an in-memory implementation of the events.EventBus interface.
// Publish delivers synchronously on the caller's goroutine, so the order of
// Publish calls is the order every subscriber observes.
type Broker struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[events.EventType]handlerList
	closed   bool

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBroker creates and initializes a new in-memory broker.
func NewBroker(logger *logger.Logger, tracer trace.Tracer) *Broker {
	return &Broker{
		handlers: make(map[events.EventType]handlerList),
		logger:   logger.With("component", "memory_event_bus"),
		tracer:   tracer,
	}
}

// subscribe registers handler for every event type and removes it once ctx ends.
func (b *Broker) subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("event bus closed")
	}
	b.nextID++
	id := b.nextID
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], subscription{id: id, handler: handler})
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, et := range eventTypes {
			b.handlers[et] = removeSubscription(b.handlers[et], id)
		}
	}()

	return nil
}

func removeSubscription(list handlerList, id uint64) handlerList {
	out := list[:0:0]
	for _, s := range list {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers the envelope to every subscriber of its type. A failing
// subscriber does not prevent delivery to the others; their errors are joined.
func (b *Broker) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := b.tracer.Start(ctx, "memory_event_bus.publish",
		trace.WithAttributes(attribute.String("event.type", string(event.Type))))
	defer span.End()

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus closed")
	}
	// Copy handlers so none run while the lock is held.
	handlersCopy := make(handlerList, len(b.handlers[event.Type]))
	copy(handlersCopy, b.handlers[event.Type])
	b.mu.RUnlock()

	span.SetAttributes(attribute.Int("subscribers", len(handlersCopy)))

	var errs []error
	for _, sub := range handlersCopy {
		if err := ctx.Err(); err != nil {
			return err
		}
		ack := func(err error) {
			if err != nil {
				b.logger.Warn(ctx, "Subscriber rejected event", "event_type", event.Type, "key", event.Key, "error", err)
			}
		}
		if err := sub.handler(ctx, event, ack); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %d: %w", sub.id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Subscribe registers a handler for the given event types until ctx is done.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := b.subscribe(ctx, eventTypes, handler); err != nil {
		return err
	}
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

// SubscriberCount returns the number of handlers registered for et.
func (b *Broker) SubscriberCount(et events.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[et])
}

// Close drops all subscriptions. Further publishes fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType]handlerList)
	return nil
}
