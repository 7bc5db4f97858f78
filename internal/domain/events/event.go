package events

import (
	"context"
	"time"
)

// DomainEvent encapsulates all event data flowing through the system, providing
// a standardized format for event processing and distribution.
type DomainEvent struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically the task identifier so
	// every update for one task lands on the same partition in order.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data (e.g., progress.Update).
	// The concrete type depends on the EventType.
	Payload any
}

// EventMetadata carries transport specific position information.
type EventMetadata struct {
	Partition int32
	Offset    int64
}

// EventEnvelope is the unit handed to subscribers by an EventBus.
type EventEnvelope struct {
	Type      EventType
	Key       string
	Timestamp time.Time
	Payload   any
	Metadata  EventMetadata
}

// AckFunc acknowledges processing of an envelope. A non-nil error signals the
// handler failed and the message must not be committed.
type AckFunc func(err error)

// HandlerFunc processes one envelope delivered by an EventBus.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error
