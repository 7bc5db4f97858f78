package serialization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
)

func TestUpdateEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 4, 5, 6, 7, 8000, time.UTC)
	tests := []struct {
		name   string
		typ    events.EventType
		update progress.Update
	}{
		{
			name: "progress",
			typ:  events.EventTypeTaskProgressed,
			update: progress.NewStageUpdate("t1", progress.StageRecord{
				Stage: "curate", Status: progress.StageStatusProcessing, Message: "2/3",
				Data: progress.MustJSONPayload(`{"done":2,"total":3}`), Timestamp: ts,
			}),
		},
		{
			name:   "completed",
			typ:    events.EventTypeTaskCompleted,
			update: progress.NewCompletedUpdate("t1", "paper.pdf", progress.MustJSONPayload(`{"title":"A"}`), ts),
		},
		{
			name:   "failed",
			typ:    events.EventTypeTaskFailed,
			update: progress.NewFailedUpdate("t1", "paper.pdf", "timeout", ts),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wire, err := SerializeEventEnvelope(tt.typ, tt.update)
			require.NoError(t, err)

			gotType, body, err := UnmarshalUniversalEnvelope(wire)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, gotType)

			payload, err := DeserializePayload(gotType, body)
			require.NoError(t, err)

			got, ok := payload.(progress.Update)
			require.True(t, ok)
			assert.Equal(t, tt.update.Type, got.Type)
			assert.Equal(t, tt.update.TaskID, got.TaskID)
			assert.Equal(t, tt.update.Stage, got.Stage)
			assert.Equal(t, tt.update.Error, got.Error)
			assert.True(t, tt.update.Timestamp.Equal(got.Timestamp))
			if !tt.update.Data.IsNone() {
				assert.JSONEq(t, string(tt.update.Data.Raw()), string(got.Data.Raw()))
			}
			if !tt.update.Result.IsNone() {
				assert.JSONEq(t, string(tt.update.Result.Raw()), string(got.Result.Raw()))
			}
		})
	}
}

func TestJobEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	job := progress.Job{
		TaskID:      "t2",
		Label:       "paper.pdf",
		Input:       []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff},
		SubmittedAt: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		RetryOf:     "t1",
	}

	wire, err := SerializeEventEnvelope(events.EventTypeJobSubmitted, job)
	require.NoError(t, err)

	typ, body, err := UnmarshalUniversalEnvelope(wire)
	require.NoError(t, err)
	payload, err := DeserializePayload(typ, body)
	require.NoError(t, err)
	assert.Equal(t, job, payload)
}

func TestSerializeRejectsWrongPayload(t *testing.T) {
	t.Parallel()

	_, err := SerializeEventEnvelope(events.EventTypeTaskProgressed, "not an update")
	assert.Error(t, err)

	_, err = SerializeEventEnvelope(events.EventTypeTaskProgressed, nil)
	assert.Error(t, err)

	_, err = SerializeEventEnvelope(events.EventType("Unknown"), progress.Update{})
	assert.Error(t, err)
}

func TestUnmarshalEnvelopeMalformed(t *testing.T) {
	t.Parallel()

	_, _, err := UnmarshalUniversalEnvelope([]byte{0x0a, 0x05, 'a'})
	assert.Error(t, err)

	_, _, err = UnmarshalUniversalEnvelope(nil)
	assert.Error(t, err)
}
