package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/memory"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

type mockMetrics struct{ mock.Mock }

func (m *mockMetrics) IncUpdatesRelayed(ctx context.Context, updateType string) { m.Called(updateType) }
func (m *mockMetrics) IncUpdatesDropped(ctx context.Context, reason string)     { m.Called(reason) }

type failingPublisher struct{}

func (failingPublisher) PublishDomainEvent(context.Context, events.DomainEvent, ...events.PublishOption) error {
	return errors.New("broker unreachable")
}

func stageUpdate(taskID, stage string) progress.Update {
	return progress.NewStageUpdate(taskID, progress.StageRecord{
		Stage:     stage,
		Status:    progress.StageStatusProcessing,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestRelayPublishesKeyedUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	broker := memory.NewBroker(logger.Noop(), testTracer)
	var (
		mu   sync.Mutex
		seen []events.EventEnvelope
	)
	require.NoError(t, broker.Subscribe(ctx, events.UpdateEventTypes, func(_ context.Context, env events.EventEnvelope, ack events.AckFunc) error {
		mu.Lock()
		seen = append(seen, env)
		mu.Unlock()
		ack(nil)
		return nil
	}))

	metrics := new(mockMetrics)
	metrics.On("IncUpdatesRelayed", "task_progress").Return().Once()
	metrics.On("IncUpdatesRelayed", "task_completed").Return().Once()

	r := New(events.NewBusPublisher(broker), metrics, logger.Noop(), testTracer)
	r.Notify(ctx, stageUpdate("task-1", "upload"))
	r.Notify(ctx, progress.NewCompletedUpdate("task-1", "a.pdf", progress.NoPayload(), time.Now()))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(closeCtx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, events.EventTypeTaskProgressed, seen[0].Type)
	assert.Equal(t, "task-1", seen[0].Key)
	assert.Equal(t, events.EventTypeTaskCompleted, seen[1].Type)
	metrics.AssertExpectations(t)
}

func TestRelayNeverFailsTheCaller(t *testing.T) {
	t.Parallel()

	metrics := new(mockMetrics)
	metrics.On("IncUpdatesDropped", DropReasonPublish).Return().Once()
	metrics.On("IncUpdatesDropped", DropReasonInvalid).Return().Once()

	r := New(failingPublisher{}, metrics, logger.Noop(), testTracer)
	assert.NotPanics(t, func() {
		r.Notify(context.Background(), stageUpdate("task-1", "upload"))
		r.Notify(context.Background(), progress.Update{Type: progress.UpdateTaskProgress, TaskID: "task-1"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	metrics.AssertExpectations(t)
}

// stalledPublisher blocks every publish until release is closed, like a
// synchronous producer waiting on an unreachable broker.
type stalledPublisher struct {
	release chan struct{}

	mu   sync.Mutex
	keys []string
}

func (p *stalledPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, evt.Key)
	return nil
}

func TestRelayNotifyDoesNotWaitForPublisher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		buffer      int
		notify      int
		wantDropped bool
	}{
		{name: "fits in buffer", buffer: 8, notify: 4},
		{name: "overflows buffer", buffer: 1, notify: 10, wantDropped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pub := &stalledPublisher{release: make(chan struct{})}
			metrics := new(mockMetrics)
			metrics.On("IncUpdatesRelayed", "task_progress").Return()
			metrics.On("IncUpdatesDropped", DropReasonQueueFull).Return()

			r := New(pub, metrics, logger.Noop(), testTracer, WithBuffer(tt.buffer))

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < tt.notify; i++ {
					r.Notify(context.Background(), stageUpdate("task-1", "upload"))
				}
			}()

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Notify blocked on a stalled publisher")
			}

			close(pub.release)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, r.Close(ctx))

			if tt.wantDropped {
				metrics.AssertCalled(t, "IncUpdatesDropped", DropReasonQueueFull)
			} else {
				metrics.AssertNotCalled(t, "IncUpdatesDropped", DropReasonQueueFull)
				pub.mu.Lock()
				assert.Len(t, pub.keys, tt.notify)
				pub.mu.Unlock()
			}
		})
	}
}

func TestRelayDropsAfterClose(t *testing.T) {
	t.Parallel()

	metrics := new(mockMetrics)
	metrics.On("IncUpdatesDropped", DropReasonClosed).Return().Once()

	r := New(failingPublisher{}, metrics, logger.Noop(), testTracer)
	require.NoError(t, r.Close(context.Background()))
	r.Notify(context.Background(), stageUpdate("task-1", "upload"))

	metrics.AssertExpectations(t)
}

func TestEventTypeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, events.EventTypeTaskProgressed, EventTypeFor(progress.UpdateTaskProgress))
	assert.Equal(t, events.EventTypeTaskCompleted, EventTypeFor(progress.UpdateTaskCompleted))
	assert.Equal(t, events.EventTypeTaskFailed, EventTypeFor(progress.UpdateTaskFailed))
}

func TestHTTPNotifierDeliversInOrder(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		stages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, IngressPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(body, &msg))
		assert.Equal(t, "task_progress", msg["type"])

		mu.Lock()
		stages = append(stages, msg["stage"].(string))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	metrics := new(mockMetrics)
	metrics.On("IncUpdatesRelayed", "task_progress").Return()

	n := NewHTTPNotifier(srv.URL+"/", metrics, logger.Noop(), testTracer)
	want := []string{"upload", "extract", "curate", "validate"}
	for _, s := range want {
		n.Notify(context.Background(), stageUpdate("task-1", s))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, stages)
}

func TestHTTPNotifierDropsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	metrics := new(mockMetrics)
	metrics.On("IncUpdatesDropped", DropReasonQueueFull).Return()
	metrics.On("IncUpdatesDropped", DropReasonDelivery).Return()
	metrics.On("IncUpdatesDropped", DropReasonClosed).Return()

	n := NewHTTPNotifier(srv.URL, metrics, logger.Noop(), testTracer, WithQueueSize(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			n.Notify(context.Background(), stageUpdate("task-1", "upload"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))

	n.Notify(context.Background(), stageUpdate("task-1", "late"))
	metrics.AssertCalled(t, "IncUpdatesDropped", DropReasonQueueFull)
	metrics.AssertCalled(t, "IncUpdatesDropped", DropReasonDelivery)
	metrics.AssertCalled(t, "IncUpdatesDropped", DropReasonClosed)
}
