package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

func newTestBroker() *Broker {
	return NewBroker(logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	var got events.EventEnvelope
	err := broker.Subscribe(ctx, []events.EventType{events.EventTypeTaskProgressed},
		func(_ context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			got = evt
			ack(nil)
			return nil
		})
	require.NoError(t, err)

	err = broker.Publish(ctx, events.EventEnvelope{Type: events.EventTypeTaskProgressed, Payload: "p"}, events.WithKey("t1"))
	require.NoError(t, err)

	assert.Equal(t, "t1", got.Key)
	assert.Equal(t, "p", got.Payload)
	assert.False(t, got.Timestamp.IsZero())
}

func TestMultipleSubscribers(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()
	var wg sync.WaitGroup
	subscriberCount := 3
	wg.Add(subscriberCount)

	for range subscriberCount {
		err := broker.Subscribe(ctx, events.UpdateEventTypes, func(context.Context, events.EventEnvelope, events.AckFunc) error {
			wg.Done()
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, broker.Publish(ctx, events.EventEnvelope{Type: events.EventTypeTaskCompleted}))
	wg.Wait()
}

func TestOtherTypesNotDelivered(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	called := false
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeJobSubmitted},
		func(context.Context, events.EventEnvelope, events.AckFunc) error {
			called = true
			return nil
		}))

	require.NoError(t, broker.Publish(ctx, events.EventEnvelope{Type: events.EventTypeTaskProgressed}))
	assert.False(t, called)
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()
	expectedErr := errors.New("handler error")

	delivered := 0
	require.NoError(t, broker.Subscribe(ctx, events.UpdateEventTypes, func(context.Context, events.EventEnvelope, events.AckFunc) error {
		return expectedErr
	}))
	require.NoError(t, broker.Subscribe(ctx, events.UpdateEventTypes, func(context.Context, events.EventEnvelope, events.AckFunc) error {
		delivered++
		return nil
	}))

	err := broker.Publish(ctx, events.EventEnvelope{Type: events.EventTypeTaskFailed})
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, delivered)
}

func TestPublishOrderPreserved(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	var got []any
	require.NoError(t, broker.Subscribe(ctx, events.UpdateEventTypes, func(_ context.Context, evt events.EventEnvelope, _ events.AckFunc) error {
		got = append(got, evt.Payload)
		return nil
	}))

	for _, p := range []string{"A", "B", "C"} {
		require.NoError(t, broker.Publish(ctx, events.EventEnvelope{Type: events.EventTypeTaskProgressed, Payload: p}))
	}
	assert.Equal(t, []any{"A", "B", "C"}, got)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, broker.Subscribe(ctx, events.UpdateEventTypes, func(context.Context, events.EventEnvelope, events.AckFunc) error {
		return nil
	}))
	assert.Equal(t, 1, broker.SubscriberCount(events.EventTypeTaskProgressed))

	cancel()
	assert.Eventually(t, func() bool {
		return broker.SubscriberCount(events.EventTypeTaskProgressed) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := broker.Subscribe(ctx, events.UpdateEventTypes, func(context.Context, events.EventEnvelope, events.AckFunc) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	err = broker.Publish(ctx, events.EventEnvelope{Type: events.EventTypeTaskProgressed})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedBrokerRejectsPublish(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	require.NoError(t, broker.Close())
	assert.Error(t, broker.Publish(context.Background(), events.EventEnvelope{Type: events.EventTypeTaskProgressed}))
}
