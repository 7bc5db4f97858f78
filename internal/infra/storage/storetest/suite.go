// Package storetest is a behavioral suite every progress.TaskStore backend
// must pass. Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/curation-progress/internal/domain/progress"
)

// Harness exposes a store under test together with control over its clock.
type Harness struct {
	Store     progress.TaskStore
	Retention progress.Retention
	// Now reports the time the store considers current.
	Now func() time.Time
	// Advance moves the store's notion of time forward by d.
	Advance func(d time.Duration)
}

// Run executes the suite. Subtests share the harness and run sequentially;
// each uses fresh task identifiers.
func Run(t *testing.T, h *Harness) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, h *Harness)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"StageRoundTrip", testStageRoundTrip},
		{"StageReplaceKeepsPosition", testStageReplaceKeepsPosition},
		{"StageDataRetained", testStageDataRetained},
		{"StageMissingTask", testStageMissingTask},
		{"StageRegression", testStageRegression},
		{"ConcurrentStages", testConcurrentStages},
		{"StatusLifecycle", testStatusLifecycle},
		{"StatusFailedKeepsError", testStatusFailedKeepsError},
		{"StatusMissingTask", testStatusMissingTask},
		{"ListRecentOrder", testListRecentOrder},
		{"DeleteThenList", testDeleteThenList},
		{"DeleteIdempotent", testDeleteIdempotent},
		{"InputRoundTrip", testInputRoundTrip},
		{"InputMissing", testInputMissing},
		{"Ping", testPing},
		{"InputExpiry", testInputExpiry},
		{"TaskExpiry", testTaskExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, h) })
	}
}

func newID() string { return uuid.NewString() }

func mustCreate(t *testing.T, h *Harness, label string) string {
	t.Helper()
	id := newID()
	require.NoError(t, h.Store.Create(context.Background(), id, label))
	return id
}

func stage(h *Harness, name string, status progress.StageStatus, msg string) progress.StageRecord {
	return progress.StageRecord{Stage: name, Status: status, Message: msg, Timestamp: h.Now()}
}

func testCreateAndGet(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, task.TaskID)
	assert.Equal(t, "f.pdf", task.Label)
	assert.Equal(t, progress.TaskStatusQueued, task.Status)
	assert.Empty(t, task.Stages)
	assert.True(t, task.Result.IsNone())
	assert.Empty(t, task.Error)
	assert.WithinDuration(t, h.Now(), task.CreatedAt, 2*time.Second)
	assert.WithinDuration(t, task.CreatedAt, task.UpdatedAt, time.Millisecond)
	assert.True(t, task.InputExpiresAt.IsZero())
}

func testCreateDuplicate(t *testing.T, h *Harness) {
	id := mustCreate(t, h, "f.pdf")
	err := h.Store.Create(context.Background(), id, "other.pdf")
	assert.ErrorIs(t, err, progress.ErrAlreadyExists)

	task, err := h.Store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "f.pdf", task.Label)
}

func testGetMissing(t *testing.T, h *Harness) {
	_, err := h.Store.Get(context.Background(), newID())
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func testStageRoundTrip(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "upload", progress.StageStatusCompleted, "ok")))

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, task.Stages, 1)
	assert.Equal(t, "upload", task.Stages[0].Stage)
	assert.Equal(t, progress.StageStatusCompleted, task.Stages[0].Status)
	assert.Equal(t, "ok", task.Stages[0].Message)
	assert.WithinDuration(t, h.Now(), task.Stages[0].Timestamp, time.Millisecond)
}

func testStageReplaceKeepsPosition(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "upload", progress.StageStatusProcessing, "sending")))
	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "extract", progress.StageStatusProcessing, "reading")))
	h.Advance(5 * time.Millisecond)
	last := stage(h, "upload", progress.StageStatusCompleted, "sent")
	require.NoError(t, h.Store.PutStage(ctx, id, last))

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, task.Stages, 2)
	assert.Equal(t, "upload", task.Stages[0].Stage)
	assert.Equal(t, progress.StageStatusCompleted, task.Stages[0].Status)
	assert.Equal(t, "sent", task.Stages[0].Message)
	assert.Equal(t, "extract", task.Stages[1].Stage)
	assert.WithinDuration(t, last.Timestamp, task.UpdatedAt, time.Millisecond)
}

func testStageDataRetained(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	first := stage(h, "curate", progress.StageStatusProcessing, "1/3")
	first.Data = progress.MustJSONPayload(`{"done":1,"total":3}`)
	require.NoError(t, h.Store.PutStage(ctx, id, first))
	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "curate", progress.StageStatusProcessing, "still")))

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, task.Stages, 1)
	assert.Equal(t, "still", task.Stages[0].Message)
	assert.JSONEq(t, `{"done":1,"total":3}`, string(task.Stages[0].Data.Raw()))

	next := stage(h, "curate", progress.StageStatusCompleted, "3/3")
	next.Data = progress.MustJSONPayload(`{"done":3,"total":3}`)
	require.NoError(t, h.Store.PutStage(ctx, id, next))

	task, err = h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":3,"total":3}`, string(task.Stages[0].Data.Raw()))
}

func testStageMissingTask(t *testing.T, h *Harness) {
	err := h.Store.PutStage(context.Background(), newID(), stage(h, "upload", progress.StageStatusPending, ""))
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func testStageRegression(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "upload", progress.StageStatusFailed, "bad file")))
	err := h.Store.PutStage(ctx, id, stage(h, "upload", progress.StageStatusProcessing, "again"))
	assert.ErrorIs(t, err, progress.ErrInvalidTransition)

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, progress.StageStatusFailed, task.Stages[0].Status)
	assert.Equal(t, "bad file", task.Stages[0].Message)
}

func testConcurrentStages(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- h.Store.PutStage(ctx, id, stage(h, fmt.Sprintf("stage-%02d", i), progress.StageStatusProcessing, ""))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, task.Stages, n)

	seen := make(map[string]bool, n)
	for _, s := range task.Stages {
		seen[s.Stage] = true
	}
	for i := range n {
		assert.True(t, seen[fmt.Sprintf("stage-%02d", i)])
	}
}

func testStatusLifecycle(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	require.NoError(t, h.Store.SetStatus(ctx, id, progress.StatusChange{Status: progress.TaskStatusProcessing}))
	err := h.Store.SetStatus(ctx, id, progress.StatusChange{Status: progress.TaskStatusQueued})
	assert.ErrorIs(t, err, progress.ErrInvalidTransition)

	h.Advance(5 * time.Millisecond)
	require.NoError(t, h.Store.SetStatus(ctx, id, progress.StatusChange{
		Status: progress.TaskStatusCompleted,
		Result: progress.MustJSONPayload(`{"title":"A study"}`),
	}))

	for _, next := range []progress.TaskStatus{
		progress.TaskStatusFailed,
		progress.TaskStatusCompleted,
		progress.TaskStatusProcessing,
	} {
		err := h.Store.SetStatus(ctx, id, progress.StatusChange{Status: next})
		assert.ErrorIs(t, err, progress.ErrInvalidTransition, "completed -> %s", next)
	}

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, progress.TaskStatusCompleted, task.Status)
	assert.JSONEq(t, `{"title":"A study"}`, string(task.Result.Raw()))
	assert.True(t, task.UpdatedAt.After(task.CreatedAt))
}

func testStatusFailedKeepsError(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")

	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "curate", progress.StageStatusFailed, "model timeout")))
	require.NoError(t, h.Store.SetStatus(ctx, id, progress.StatusChange{Status: progress.TaskStatusFailed, Error: "model timeout"}))

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, progress.TaskStatusFailed, task.Status)
	assert.Equal(t, "model timeout", task.Error)
	require.Len(t, task.Stages, 1)
	assert.Equal(t, progress.StageStatusFailed, task.Stages[0].Status)
}

func testStatusMissingTask(t *testing.T, h *Harness) {
	err := h.Store.SetStatus(context.Background(), newID(), progress.StatusChange{Status: progress.TaskStatusProcessing})
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func testListRecentOrder(t *testing.T, h *Harness) {
	ctx := context.Background()

	var ids []string
	for i := range 3 {
		h.Advance(10 * time.Millisecond)
		ids = append(ids, mustCreate(t, h, fmt.Sprintf("f%d.pdf", i)))
	}

	tasks, err := h.Store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, ids[2], tasks[0].TaskID)
	assert.Equal(t, ids[1], tasks[1].TaskID)

	tasks, err = h.Store.ListRecent(ctx, 1000)
	require.NoError(t, err)
	pos := make(map[string]int)
	for i, task := range tasks {
		pos[task.TaskID] = i
	}
	require.Contains(t, pos, ids[0])
	assert.Less(t, pos[ids[2]], pos[ids[1]])
	assert.Less(t, pos[ids[1]], pos[ids[0]])
}

func testDeleteThenList(t *testing.T, h *Harness) {
	ctx := context.Background()
	h.Advance(10 * time.Millisecond)
	id := mustCreate(t, h, "f.pdf")
	require.NoError(t, h.Store.PutInput(ctx, id, []byte("pdf-bytes")))
	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "upload", progress.StageStatusCompleted, "")))

	require.NoError(t, h.Store.Delete(ctx, id))

	tasks, err := h.Store.ListRecent(ctx, 50)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.NotEqual(t, id, task.TaskID)
	}

	_, err = h.Store.Get(ctx, id)
	assert.ErrorIs(t, err, progress.ErrNotFound)
	_, err = h.Store.GetInput(ctx, id)
	assert.ErrorIs(t, err, progress.ErrNotFound)

	// The identifier is free again once deleted.
	require.NoError(t, h.Store.Create(ctx, id, "again.pdf"))
	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, task.Stages)
}

func testDeleteIdempotent(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")
	require.NoError(t, h.Store.Delete(ctx, id))
	require.NoError(t, h.Store.Delete(ctx, id))
	require.NoError(t, h.Store.Delete(ctx, newID()))
}

func testInputRoundTrip(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")
	input := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xfe}

	require.NoError(t, h.Store.PutInput(ctx, id, input))
	assert.ErrorIs(t, h.Store.PutInput(ctx, id, []byte("other")), progress.ErrAlreadyExists)

	got, err := h.Store.GetInput(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.WithinDuration(t, h.Now().Add(h.Retention.InputTTL), task.InputExpiresAt, 2*time.Second)
	assert.True(t, task.Retryable(h.Now()))
}

func testInputMissing(t *testing.T, h *Harness) {
	ctx := context.Background()

	assert.ErrorIs(t, h.Store.PutInput(ctx, newID(), []byte("x")), progress.ErrNotFound)

	_, err := h.Store.GetInput(ctx, newID())
	assert.ErrorIs(t, err, progress.ErrNotFound)

	id := mustCreate(t, h, "f.pdf")
	_, err = h.Store.GetInput(ctx, id)
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func testPing(t *testing.T, h *Harness) {
	assert.NoError(t, h.Store.Ping(context.Background()))
}

func testInputExpiry(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")
	require.NoError(t, h.Store.PutInput(ctx, id, []byte("pdf-bytes")))

	h.Advance(h.Retention.InputTTL + 100*time.Millisecond)

	_, err := h.Store.GetInput(ctx, id)
	assert.ErrorIs(t, err, progress.ErrExpired)
	assert.NotErrorIs(t, err, progress.ErrNotFound)

	task, err := h.Store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, task.Retryable(h.Now()))
}

func testTaskExpiry(t *testing.T, h *Harness) {
	ctx := context.Background()
	id := mustCreate(t, h, "f.pdf")
	require.NoError(t, h.Store.PutStage(ctx, id, stage(h, "upload", progress.StageStatusCompleted, "")))

	h.Advance(h.Retention.TaskTTL + 100*time.Millisecond)

	_, err := h.Store.Get(ctx, id)
	assert.ErrorIs(t, err, progress.ErrNotFound)

	tasks, err := h.Store.ListRecent(ctx, 50)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.NotEqual(t, id, task.TaskID)
	}

	err = h.Store.PutStage(ctx, id, stage(h, "extract", progress.StageStatusPending, ""))
	assert.ErrorIs(t, err, progress.ErrNotFound)

	require.NoError(t, h.Store.Create(ctx, id, "fresh.pdf"))
}
