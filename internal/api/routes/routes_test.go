package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/curation-progress/internal/api"
	"github.com/ahrav/curation-progress/internal/api/mux"
	"github.com/ahrav/curation-progress/internal/api/routes"
	"github.com/ahrav/curation-progress/internal/api/routes/tasks"
	"github.com/ahrav/curation-progress/internal/app/execution"
	appprogress "github.com/ahrav/curation-progress/internal/app/progress"
	"github.com/ahrav/curation-progress/internal/app/relay"
	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/gateway"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/memory"
	storememory "github.com/ahrav/curation-progress/internal/infra/storage/memory"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

type apiFixture struct {
	server *httptest.Server
	clock  *timeutil.Mock
	gw     *gateway.Gateway
	jobs   chan progress.Job
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tracer := noop.NewTracerProvider().Tracer("test")
	mp := metricnoop.NewMeterProvider()
	log := logger.Noop()
	clock := timeutil.NewMock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	store := storememory.NewTaskStore(progress.DefaultRetention(), clock, tracer)
	manager := appprogress.NewManager(store, clock, log, tracer)

	bus := memory.NewBroker(log, tracer)
	publisher := events.NewBusPublisher(bus)
	executor := execution.NewBusExecutor(publisher, clock, log, tracer)

	jobs := make(chan progress.Job, 16)
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{events.EventTypeJobSubmitted},
		func(_ context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			jobs <- evt.Payload.(progress.Job)
			ack(nil)
			return nil
		}))

	relayMetrics, err := relay.NewMetrics(mp)
	require.NoError(t, err)
	gwMetrics, err := gateway.NewMetrics(mp)
	require.NoError(t, err)
	apiMetrics, err := api.NewAPIMetrics(mp)
	require.NoError(t, err)

	notifier := relay.New(publisher, relayMetrics, log, tracer)
	t.Cleanup(func() { _ = notifier.Close(context.Background()) })

	gw := gateway.New(gateway.NewHub(gwMetrics, log), bus, gateway.Config{Observer: gateway.DefaultObserverConfig()},
		clock, gwMetrics, log, tracer)
	require.NoError(t, gw.Start(ctx))

	handler := mux.WebAPI(mux.Config{
		Build:     "test",
		Log:       log,
		Tracer:    tracer,
		Clock:     clock,
		Metrics:   apiMetrics,
		Manager:   manager,
		Submitter: appprogress.NewSubmitter(manager, executor, clock, log, tracer),
		Retry:     appprogress.NewRetryCoordinator(manager, executor, clock, log, tracer),
		Notifier:  notifier,
		Updates:   gw.ServeWS,
	}, routes.Routes())

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, clock: clock, gw: gw, jobs: jobs}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func (f *apiFixture) submit(t *testing.T, labels ...string) tasks.SubmitResponse {
	t.Helper()

	req := tasks.SubmitRequest{}
	for _, l := range labels {
		req.Files = append(req.Files, tasks.File{Label: l, FileData: []byte("%PDF " + l)})
	}
	status, body := f.do(t, http.MethodPost, "/tasks", req)
	require.Equal(t, http.StatusAccepted, status, string(body))

	var resp tasks.SubmitResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestSubmitListAndGet(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	sub := f.submit(t, "a.pdf", "b.pdf")
	assert.Equal(t, "queued", sub.Status)
	assert.Equal(t, 2, sub.TotalFiles)
	require.Len(t, sub.Tasks, 2)

	job := <-f.jobs
	assert.Equal(t, sub.Tasks[0].TaskID, job.TaskID)
	assert.Equal(t, []byte("%PDF a.pdf"), job.Input)

	status, body := f.do(t, http.MethodGet, "/tasks?limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	var list tasks.List
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Count)

	status, body = f.do(t, http.MethodGet, "/tasks/"+sub.Tasks[1].TaskID, nil)
	require.Equal(t, http.StatusOK, status)
	var got tasks.Task
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "b.pdf", got.Label)
	assert.Equal(t, "queued", got.Status)
	assert.True(t, got.Retryable)
	assert.NotNil(t, got.InputExpiresAt)
	assert.Empty(t, got.Stages)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	tests := []struct {
		name, method, path string
		body               any
		want               int
	}{
		{"negative limit", http.MethodGet, "/tasks?limit=-1", nil, http.StatusBadRequest},
		{"no files", http.MethodPost, "/tasks", tasks.SubmitRequest{}, http.StatusBadRequest},
		{"missing label", http.MethodPost, "/tasks", tasks.SubmitRequest{Files: []tasks.File{{FileData: []byte("x")}}}, http.StatusBadRequest},
		{"malformed id", http.MethodGet, "/tasks/..bad", nil, http.StatusBadRequest},
		{"unknown task", http.MethodGet, "/tasks/nope", nil, http.StatusNotFound},
		{"unknown retry", http.MethodPost, "/tasks/nope/retry", nil, http.StatusNotFound},
		{"bad ingress update", http.MethodPost, relay.IngressPath, map[string]string{"type": "nonsense", "task_id": "t1"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		status, body := f.do(t, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.want, status, "%s: %s", tt.name, body)
	}
}

func TestRetryLifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	orig := f.submit(t, "paper.pdf").Tasks[0].TaskID
	<-f.jobs

	status, body := f.do(t, http.MethodPost, "/tasks/"+orig+"/retry", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var rr tasks.RetryResponse
	require.NoError(t, json.Unmarshal(body, &rr))
	assert.Equal(t, "queued", rr.Status)
	assert.Equal(t, orig, rr.OriginalTaskID)
	assert.NotEqual(t, orig, rr.NewTaskID)
	assert.Equal(t, "paper.pdf", rr.Label)

	job := <-f.jobs
	assert.Equal(t, rr.NewTaskID, job.TaskID)
	assert.Equal(t, orig, job.RetryOf)

	// Input is kept for two days, the task for a week.
	f.clock.Advance(3 * 24 * time.Hour)
	status, body = f.do(t, http.MethodPost, "/tasks/"+orig+"/retry", nil)
	assert.Equal(t, http.StatusGone, status, string(body))

	f.clock.Advance(5 * 24 * time.Hour)
	status, _ = f.do(t, http.MethodPost, "/tasks/"+orig+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	id := f.submit(t, "a.pdf").Tasks[0].TaskID

	status, _ := f.do(t, http.MethodDelete, "/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodDelete, "/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodGet, "/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestIngressReachesObservers(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/task-updates"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.gw.Hub().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	for _, path := range []string{relay.IngressPath, "/internal/broadcast-task-completion"} {
		update := map[string]any{"type": "task_completed", "task_id": "t1", "label": "a.pdf", "result": map[string]int{"n": 1}}
		status, body := f.do(t, http.MethodPost, path, update)
		require.Equal(t, http.StatusOK, status, string(body))
		assert.JSONEq(t, `{"status":"broadcasted"}`, string(body))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "task_completed", msg["type"])
		assert.Equal(t, "t1", msg["task_id"])
		assert.Equal(t, map[string]any{"n": float64(1)}, msg["result"])
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/liveness", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","build":"test"}`, string(body))

	status, _ = f.do(t, http.MethodGet, "/v1/readiness", nil)
	assert.Equal(t, http.StatusOK, status)
}
