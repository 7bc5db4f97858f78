package events

import (
	"context"
)

var _ DomainEventPublisher = (*BusPublisher)(nil)

// BusPublisher adapts an EventBus to the DomainEventPublisher port.
type BusPublisher struct{ bus EventBus }

// NewBusPublisher returns a publisher that forwards to bus.
func NewBusPublisher(bus EventBus) *BusPublisher { return &BusPublisher{bus: bus} }

// PublishDomainEvent wraps event in an envelope and publishes it, carrying the
// event key through as the routing key unless opts override it.
func (p *BusPublisher) PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error {
	params := ApplyOptions(opts...)
	key := event.Key
	if params.Key != "" {
		key = params.Key
	}

	env := EventEnvelope{
		Type:      event.Type,
		Key:       key,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}

	busOpts := []PublishOption{WithKey(key)}
	headers := event.Headers
	if len(params.Headers) > 0 {
		headers = params.Headers
	}
	if len(headers) > 0 {
		busOpts = append(busOpts, WithHeaders(headers))
	}
	return p.bus.Publish(ctx, env, busOpts...)
}
