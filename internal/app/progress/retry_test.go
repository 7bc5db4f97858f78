package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) Submit(ctx context.Context, job domain.Job) error {
	return m.Called(ctx, job).Error(0)
}

func newTestRetry(t *testing.T) (*RetryCoordinator, *Manager, *mockExecutor, func(time.Duration)) {
	t.Helper()
	mgr, clock := newTestManager(t)
	exec := new(mockExecutor)
	rc := NewRetryCoordinator(mgr, exec, clock, logger.Noop(), testTracer)
	rc.newID = func() string { return "retry-1" }
	return rc, mgr, exec, clock.Advance
}

func TestRetryRequeuesFromCachedInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rc, mgr, exec, _ := newTestRetry(t)

	require.NoError(t, mgr.CreateTask(ctx, "orig", "paper.pdf"))
	require.NoError(t, mgr.CacheInput(ctx, "orig", []byte("%PDF-1.7")))
	require.NoError(t, mgr.UpdateStatus(ctx, StatusReport{TaskID: "orig", Status: domain.TaskStatusFailed, Error: "timeout"}))

	exec.On("Submit", mock.Anything, mock.MatchedBy(func(j domain.Job) bool {
		return j.TaskID == "retry-1" && j.Label == "paper.pdf" &&
			string(j.Input) == "%PDF-1.7" && j.RetryOf == "orig"
	})).Return(nil).Once()

	res, err := rc.Retry(ctx, "orig")
	require.NoError(t, err)
	assert.Equal(t, RetryResult{OriginalTaskID: "orig", NewTaskID: "retry-1", Label: "paper.pdf"}, res)

	created, err := mgr.GetTask(ctx, "retry-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, created.Status)
	assert.Equal(t, "paper.pdf", created.Label)

	// The retried task can itself be retried later.
	input, err := mgr.GetInput(ctx, "retry-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), input)

	orig, err := mgr.GetTask(ctx, "orig")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, orig.Status)
	assert.Equal(t, "timeout", orig.Error)

	exec.AssertExpectations(t)
}

func TestRetryErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(t *testing.T, mgr *Manager, advance func(time.Duration))
		wantErr error
	}{
		{
			name:    "unknown task",
			setup:   func(*testing.T, *Manager, func(time.Duration)) {},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "input never cached",
			setup: func(t *testing.T, mgr *Manager, _ func(time.Duration)) {
				require.NoError(t, mgr.CreateTask(context.Background(), "orig", "paper.pdf"))
			},
			wantErr: domain.ErrExpired,
		},
		{
			name: "input expired",
			setup: func(t *testing.T, mgr *Manager, advance func(time.Duration)) {
				ctx := context.Background()
				require.NoError(t, mgr.CreateTask(ctx, "orig", "paper.pdf"))
				require.NoError(t, mgr.CacheInput(ctx, "orig", []byte("pdf")))
				advance(domain.DefaultInputTTL + time.Second)
			},
			wantErr: domain.ErrExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rc, mgr, exec, advance := newTestRetry(t)
			tt.setup(t, mgr, advance)

			_, err := rc.Retry(context.Background(), "orig")
			assert.ErrorIs(t, err, tt.wantErr)
			exec.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

			_, err = mgr.GetTask(context.Background(), "retry-1")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestRetrySubmitFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rc, mgr, exec, _ := newTestRetry(t)

	require.NoError(t, mgr.CreateTask(ctx, "orig", "paper.pdf"))
	require.NoError(t, mgr.CacheInput(ctx, "orig", []byte("pdf")))

	submitErr := errors.New("bus closed")
	exec.On("Submit", mock.Anything, mock.Anything).Return(submitErr).Once()

	_, err := rc.Retry(ctx, "orig")
	assert.ErrorIs(t, err, submitErr)

	created, err := mgr.GetTask(ctx, "retry-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, created.Status)
	assert.Contains(t, created.Error, "bus closed")

	// A failed retry is itself retryable.
	rc.newID = func() string { return "retry-2" }
	exec.On("Submit", mock.Anything, mock.MatchedBy(func(j domain.Job) bool {
		return j.TaskID == "retry-2" && j.RetryOf == "retry-1"
	})).Return(nil).Once()
	res, err := rc.Retry(ctx, "retry-1")
	require.NoError(t, err)
	assert.Equal(t, "retry-2", res.NewTaskID)
	exec.AssertExpectations(t)
}
