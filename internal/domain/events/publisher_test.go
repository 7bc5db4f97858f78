package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBus struct {
	env    EventEnvelope
	params PublishParams
	err    error
}

func (b *captureBus) Publish(_ context.Context, env EventEnvelope, opts ...PublishOption) error {
	b.env = env
	b.params = ApplyOptions(opts...)
	return b.err
}

func (b *captureBus) Subscribe(context.Context, []EventType, HandlerFunc) error { return nil }
func (b *captureBus) Close() error                                              { return nil }

func TestBusPublisherKeying(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		event       DomainEvent
		opts        []PublishOption
		wantKey     string
		wantHeaders map[string]string
	}{
		{
			name:    "event key used by default",
			event:   DomainEvent{Type: EventTypeTaskProgressed, Key: "task-1", Timestamp: ts, Payload: "p"},
			wantKey: "task-1",
		},
		{
			name:    "option key overrides event key",
			event:   DomainEvent{Type: EventTypeTaskProgressed, Key: "task-1", Timestamp: ts},
			opts:    []PublishOption{WithKey("task-2")},
			wantKey: "task-2",
		},
		{
			name:        "event headers forwarded",
			event:       DomainEvent{Type: EventTypeTaskFailed, Key: "task-1", Headers: map[string]string{"a": "1"}},
			wantKey:     "task-1",
			wantHeaders: map[string]string{"a": "1"},
		},
		{
			name:        "option headers override event headers",
			event:       DomainEvent{Type: EventTypeTaskFailed, Key: "task-1", Headers: map[string]string{"a": "1"}},
			opts:        []PublishOption{WithHeaders(map[string]string{"b": "2"})},
			wantKey:     "task-1",
			wantHeaders: map[string]string{"b": "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bus := new(captureBus)
			require.NoError(t, NewBusPublisher(bus).PublishDomainEvent(context.Background(), tt.event, tt.opts...))

			assert.Equal(t, tt.event.Type, bus.env.Type)
			assert.Equal(t, tt.wantKey, bus.env.Key)
			assert.Equal(t, tt.wantKey, bus.params.Key)
			assert.Equal(t, tt.event.Timestamp, bus.env.Timestamp)
			assert.Equal(t, tt.event.Payload, bus.env.Payload)
			assert.Equal(t, tt.wantHeaders, bus.params.Headers)
		})
	}
}

func TestBusPublisherPropagatesErrors(t *testing.T) {
	t.Parallel()

	want := errors.New("broker down")
	err := NewBusPublisher(&captureBus{err: want}).PublishDomainEvent(context.Background(), DomainEvent{Type: EventTypeJobSubmitted})
	assert.ErrorIs(t, err, want)
}
