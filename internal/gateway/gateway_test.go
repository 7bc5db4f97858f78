package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/memory"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

type gatewayFixture struct {
	gw     *Gateway
	bus    *memory.Broker
	server *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := memory.NewBroker(logger.Noop(), testTracer)
	metrics := new(mockGatewayMetrics)
	hub := NewHub(metrics, logger.Noop())
	gw := New(hub, bus, Config{}, timeutil.Default(), metrics, logger.Noop(), testTracer)
	require.NoError(t, gw.Start(ctx))

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(srv.Close)

	return &gatewayFixture{gw: gw, bus: bus, server: srv}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *gatewayFixture) waitForObservers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.gw.Hub().Count() == n }, 2*time.Second, 5*time.Millisecond)
}

func (f *gatewayFixture) publish(t *testing.T, u progress.Update) {
	t.Helper()
	et := events.EventTypeTaskProgressed
	switch u.Type {
	case progress.UpdateTaskCompleted:
		et = events.EventTypeTaskCompleted
	case progress.UpdateTaskFailed:
		et = events.EventTypeTaskFailed
	}
	require.NoError(t, f.bus.Publish(context.Background(), events.EventEnvelope{
		Type:    et,
		Key:     u.TaskID,
		Payload: u,
	}))
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestGatewayStreamsUpdatesInOrder(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)

	a, b := f.dial(t), f.dial(t)
	f.waitForObservers(t, 2)

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	stages := []string{"upload", "extract", "curate", "validate", "store"}
	for i, s := range stages {
		f.publish(t, progress.NewStageUpdate("task-1", progress.StageRecord{
			Stage:     s,
			Status:    progress.StageStatusCompleted,
			Message:   fmt.Sprintf("step %d", i),
			Timestamp: ts.Add(time.Duration(i) * time.Second),
		}))
	}
	f.publish(t, progress.NewCompletedUpdate("task-1", "paper.pdf", progress.MustJSONPayload(`{"title":"T"}`), ts))

	for _, conn := range []*websocket.Conn{a, b} {
		for _, s := range stages {
			msg := readJSON(t, conn)
			assert.Equal(t, "task_progress", msg["type"])
			assert.Equal(t, "task-1", msg["task_id"])
			assert.Equal(t, s, msg["stage"])
			assert.Equal(t, map[string]any{}, msg["data"])
		}
		done := readJSON(t, conn)
		assert.Equal(t, "task_completed", done["type"])
		assert.Equal(t, "paper.pdf", done["label"])
		assert.Equal(t, map[string]any{"title": "T"}, done["result"])
	}
}

func TestGatewayDropsObserverOnDisconnect(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)

	conn := f.dial(t)
	f.waitForObservers(t, 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	f.waitForObservers(t, 0)

	// Broadcasting with nobody listening is fine.
	assert.Equal(t, 0, f.gw.Broadcast(context.Background(), progress.NewFailedUpdate("task-1", "a.pdf", "boom", time.Now())))
}

func TestGatewayIgnoresUnexpectedPayload(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)

	conn := f.dial(t)
	f.waitForObservers(t, 1)

	require.NoError(t, f.bus.Publish(context.Background(), events.EventEnvelope{
		Type:    events.EventTypeTaskProgressed,
		Payload: "not an update",
	}))
	f.publish(t, progress.NewFailedUpdate("task-2", "b.pdf", "boom", time.Now()))

	msg := readJSON(t, conn)
	assert.Equal(t, "task_failed", msg["type"])
	assert.Equal(t, "boom", msg["error"])
}
