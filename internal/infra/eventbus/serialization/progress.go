package serialization

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	serializationerrors "github.com/ahrav/curation-progress/internal/infra/eventbus/serialization/errors"
)

// Updates travel as a google.protobuf.Struct holding their observer wire
// shape, so consumers in any language can decode them without our schema.

func serializeUpdate(payload any) ([]byte, error) {
	u, ok := payload.(progress.Update)
	if !ok {
		return nil, serializationerrors.ErrUnexpectedPayload{EventType: "update", Got: payload}
	}

	doc, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return jsonToStruct(doc)
}

func deserializeUpdate(data []byte) (any, error) {
	doc, err := structToJSON(data)
	if err != nil {
		return nil, err
	}

	var u progress.Update
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

type jobWire struct {
	TaskID      string `json:"task_id"`
	Label       string `json:"label"`
	Input       string `json:"input"`
	SubmittedAt string `json:"submitted_at"`
	RetryOf     string `json:"retry_of,omitempty"`
}

func serializeJob(payload any) ([]byte, error) {
	j, ok := payload.(progress.Job)
	if !ok {
		return nil, serializationerrors.ErrUnexpectedPayload{EventType: string(events.EventTypeJobSubmitted), Got: payload}
	}

	doc, err := json.Marshal(jobWire{
		TaskID:      j.TaskID,
		Label:       j.Label,
		Input:       base64.StdEncoding.EncodeToString(j.Input),
		SubmittedAt: progress.FormatTimestamp(j.SubmittedAt),
		RetryOf:     j.RetryOf,
	})
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return jsonToStruct(doc)
}

func deserializeJob(data []byte) (any, error) {
	doc, err := structToJSON(data)
	if err != nil {
		return nil, err
	}

	var w jobWire
	if err := json.Unmarshal(doc, &w); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	input, err := base64.StdEncoding.DecodeString(w.Input)
	if err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	submitted, err := time.Parse(time.RFC3339Nano, w.SubmittedAt)
	if err != nil {
		return nil, fmt.Errorf("decode job submitted_at: %w", err)
	}

	return progress.Job{
		TaskID:      w.TaskID,
		Label:       w.Label,
		Input:       input,
		SubmittedAt: submitted,
		RetryOf:     w.RetryOf,
	}, nil
}

func jsonToStruct(doc []byte) ([]byte, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(&s)
}

func structToJSON(data []byte) ([]byte, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal struct: %w", err)
	}
	return protojson.Marshal(&s)
}
