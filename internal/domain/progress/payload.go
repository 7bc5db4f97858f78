package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is an opaque structured value carried through the system without
// interpretation. It is either absent or a valid JSON document.
type Payload struct {
	raw json.RawMessage
}

var (
	nullJSON        = []byte("null")
	emptyObjectJSON = json.RawMessage("{}")
)

// NoPayload returns the absent variant.
func NoPayload() Payload { return Payload{} }

// JSONPayload wraps raw as a payload after checking it is well formed.
// A literal null is treated as absent.
func JSONPayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullJSON) {
		return Payload{}, nil
	}
	if !json.Valid(trimmed) {
		return Payload{}, fmt.Errorf("payload is not valid json: %w", ErrInvalidArgument)
	}
	cp := make(json.RawMessage, len(trimmed))
	copy(cp, trimmed)
	return Payload{raw: cp}, nil
}

// MustJSONPayload is JSONPayload for values known to be valid.
func MustJSONPayload(raw string) Payload {
	p, err := JSONPayload([]byte(raw))
	if err != nil {
		panic(err)
	}
	return p
}

// PayloadOf marshals v into a payload.
func PayloadOf(v any) (Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return JSONPayload(b)
}

// IsNone reports whether the payload is absent.
func (p Payload) IsNone() bool { return len(p.raw) == 0 }

// Raw returns the JSON document, or nil when absent.
func (p Payload) Raw() json.RawMessage { return p.raw }

// OrEmptyObject returns the document, or {} when absent.
func (p Payload) OrEmptyObject() json.RawMessage {
	if p.IsNone() {
		return emptyObjectJSON
	}
	return p.raw
}

// Equal reports whether both payloads carry the same bytes.
func (p Payload) Equal(other Payload) bool { return bytes.Equal(p.raw, other.raw) }

// MarshalJSON implements json.Marshaler. The absent variant encodes as null.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsNone() {
		return nullJSON, nil
	}
	return p.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(b []byte) error {
	v, err := JSONPayload(b)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
