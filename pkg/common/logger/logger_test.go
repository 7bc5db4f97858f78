package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "progress", func(context.Context) string { return "abc" })

	log.With("component", "store").Info(context.Background(), "stage written", "task_id", "t-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "stage written", rec["msg"])
	assert.Equal(t, "progress", rec["service"])
	assert.Equal(t, "store", rec["component"])
	assert.Equal(t, "t-1", rec["task_id"])
	assert.Equal(t, "abc", rec["trace_id"])
}

func TestLoggerRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "progress", nil)

	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "shown")
	assert.NotZero(t, buf.Len())
}

func TestLoggerErrorEvent(t *testing.T) {
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	var buf bytes.Buffer
	log := NewWithEvents(&buf, LevelDebug, "progress", nil, events)
	log.Error(context.Background(), "store down", "backend", "redis")

	assert.Equal(t, "store down", got.Message)
	assert.Equal(t, "redis", got.Attributes["backend"])
}

func TestLoggerContextAdd(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelInfo, "progress", nil))
	lc.Add("observer_id", "o-1")
	lc.Info(context.Background(), "registered")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "o-1", rec["observer_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestNoopDiscards(t *testing.T) {
	log := Noop()
	log.With("a", 1).Error(context.Background(), "nothing")
}
