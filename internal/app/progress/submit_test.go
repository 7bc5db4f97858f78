package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

func newTestSubmitter(t *testing.T) (*Submitter, *Manager, *mockExecutor) {
	t.Helper()
	mgr, clock := newTestManager(t)
	exec := new(mockExecutor)
	s := NewSubmitter(mgr, exec, clock, logger.Noop(), testTracer)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}
	return s, mgr, exec
}

func TestSubmitQueuesEveryUpload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, mgr, exec := newTestSubmitter(t)

	exec.On("Submit", mock.Anything, mock.AnythingOfType("progress.Job")).Return(nil).Twice()

	subs, err := s.Submit(ctx, []Upload{
		{Label: "a.pdf", Data: []byte("a")},
		{Label: "b.pdf", Data: []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, []Submission{{Label: "a.pdf", TaskID: "task-1"}, {Label: "b.pdf", TaskID: "task-2"}}, subs)

	for _, sub := range subs {
		task, err := mgr.GetTask(ctx, sub.TaskID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, task.Status)
		assert.True(t, task.Retryable(task.CreatedAt))
	}
	exec.AssertExpectations(t)
}

func TestSubmitRejectsInvalidUploadsUpFront(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uploads []Upload
	}{
		{name: "no uploads"},
		{name: "missing label", uploads: []Upload{{Label: "a.pdf", Data: []byte("a")}, {Label: " ", Data: []byte("b")}}},
		{name: "empty data", uploads: []Upload{{Label: "a.pdf"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, mgr, exec := newTestSubmitter(t)

			_, err := s.Submit(context.Background(), tt.uploads)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)

			tasks, err := mgr.ListRecent(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, tasks)
			exec.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitMarksTaskFailedWhenExecutorRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, mgr, exec := newTestSubmitter(t)

	exec.On("Submit", mock.Anything, mock.Anything).Return(errors.New("bus down")).Once()

	subs, err := s.Submit(ctx, []Upload{{Label: "a.pdf", Data: []byte("a")}})
	require.Error(t, err)
	assert.Empty(t, subs)

	task, err := mgr.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "bus down")
}

func TestSubmitLogsUnrecordedFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr, clock := newTestManager(t)

	var (
		mu     sync.Mutex
		errMsg []string
	)
	log := logger.NewWithEvents(io.Discard, logger.LevelDebug, "test", nil, logger.Events{
		Error: func(_ context.Context, r logger.Record) {
			mu.Lock()
			defer mu.Unlock()
			errMsg = append(errMsg, r.Message)
		},
	})

	exec := new(mockExecutor)
	s := NewSubmitter(mgr, exec, clock, log, testTracer)
	s.newID = func() string { return "task-1" }

	// The task disappears before its failure can be recorded.
	exec.On("Submit", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, mgr.DeleteTask(ctx, args.Get(1).(domain.Job).TaskID))
		}).
		Return(errors.New("bus down")).Once()

	_, err := s.Submit(ctx, []Upload{{Label: "a.pdf", Data: []byte("a")}})
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, errMsg, "Failed to mark task failed")
}
