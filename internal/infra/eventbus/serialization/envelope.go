package serialization

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ahrav/curation-progress/internal/domain/events"
	serializationerrors "github.com/ahrav/curation-progress/internal/infra/eventbus/serialization/errors"
)

// Field numbers of the universal envelope message:
//
//	message Envelope {
//	  string event_type = 1;
//	  bytes  payload    = 2;
//	}
const (
	envelopeTypeField    protowire.Number = 1
	envelopePayloadField protowire.Number = 2
)

// SerializeEventEnvelope encodes payload with the serializer registered for
// eventType and wraps it in the universal envelope.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	if payload == nil {
		return nil, serializationerrors.ErrNilEvent{EventType: string(eventType)}
	}

	body, err := SerializePayload(eventType, payload)
	if err != nil {
		return nil, err
	}

	var b []byte
	b = protowire.AppendTag(b, envelopeTypeField, protowire.BytesType)
	b = protowire.AppendString(b, string(eventType))
	b = protowire.AppendTag(b, envelopePayloadField, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b, nil
}

// UnmarshalUniversalEnvelope splits an envelope into its event type and the
// still-encoded payload. Unknown fields are skipped.
func UnmarshalUniversalEnvelope(data []byte) (events.EventType, []byte, error) {
	var (
		eventType events.EventType
		payload   []byte
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, serializationerrors.ErrMalformedEnvelope{Err: protowire.ParseError(n)}
		}
		data = data[n:]

		switch {
		case num == envelopeTypeField && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return "", nil, serializationerrors.ErrMalformedEnvelope{Err: protowire.ParseError(m)}
			}
			eventType = events.EventType(v)
			data = data[m:]
		case num == envelopePayloadField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return "", nil, serializationerrors.ErrMalformedEnvelope{Err: protowire.ParseError(m)}
			}
			payload = append([]byte(nil), v...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return "", nil, serializationerrors.ErrMalformedEnvelope{Err: protowire.ParseError(m)}
			}
			data = data[m:]
		}
	}

	if eventType == "" {
		return "", nil, serializationerrors.ErrMalformedEnvelope{Err: fmt.Errorf("missing event type")}
	}
	return eventType, payload, nil
}
