package serializationerrors

import "fmt"

// ErrNilEvent indicates that a nil event was provided for serialization/deserialization
type ErrNilEvent struct{ EventType string }

func (e ErrNilEvent) Error() string { return fmt.Sprintf("nil %s event", e.EventType) }

// ErrUnexpectedPayload indicates the payload type does not match the event type.
type ErrUnexpectedPayload struct {
	EventType string
	Got       any
}

func (e ErrUnexpectedPayload) Error() string {
	return fmt.Sprintf("unexpected payload %T for %s event", e.Got, e.EventType)
}

// ErrMalformedEnvelope indicates the wire envelope could not be decoded.
type ErrMalformedEnvelope struct{ Err error }

func (e ErrMalformedEnvelope) Error() string { return fmt.Sprintf("malformed envelope: %v", e.Err) }

func (e ErrMalformedEnvelope) Unwrap() error { return e.Err }
