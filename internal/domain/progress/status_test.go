package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		from  TaskStatus
		to    TaskStatus
		valid bool
	}{
		{"queued to processing", TaskStatusQueued, TaskStatusProcessing, true},
		{"queued to failed", TaskStatusQueued, TaskStatusFailed, true},
		{"processing to processing", TaskStatusProcessing, TaskStatusProcessing, true},
		{"processing to completed", TaskStatusProcessing, TaskStatusCompleted, true},
		{"processing to failed", TaskStatusProcessing, TaskStatusFailed, true},
		{"processing to queued", TaskStatusProcessing, TaskStatusQueued, false},
		{"completed to failed", TaskStatusCompleted, TaskStatusFailed, false},
		{"completed to completed", TaskStatusCompleted, TaskStatusCompleted, false},
		{"failed to processing", TaskStatusFailed, TaskStatusProcessing, false},
		{"unknown target", TaskStatusQueued, TaskStatus("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to))

			err := tt.from.ValidateTransition(tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestStageStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		from  StageStatus
		to    StageStatus
		valid bool
	}{
		{"pending to processing", StageStatusPending, StageStatusProcessing, true},
		{"processing to completed", StageStatusProcessing, StageStatusCompleted, true},
		{"completed rewrite", StageStatusCompleted, StageStatusCompleted, true},
		{"failed rewrite", StageStatusFailed, StageStatusFailed, true},
		{"completed to failed", StageStatusCompleted, StageStatusFailed, false},
		{"completed to processing", StageStatusCompleted, StageStatusProcessing, false},
		{"processing to pending", StageStatusProcessing, StageStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusPredecessors(t *testing.T) {
	t.Parallel()

	assert.ElementsMatch(t, []string{"queued", "processing"}, TaskStatusPredecessors(TaskStatusCompleted))
	assert.ElementsMatch(t, []string{"queued"}, TaskStatusPredecessors(TaskStatusQueued))
	assert.ElementsMatch(t,
		[]string{"pending", "processing", "completed"},
		StageStatusPredecessors(StageStatusCompleted),
	)
	require.Empty(t, TaskStatusPredecessors(TaskStatus("bogus")))
}
