// Package progress defines the task progress domain: tasks, their stage
// history, the live updates derived from them, and the ports the rest of the
// system uses to persist and broadcast them.
package progress

import (
	"context"
	"time"
)

// TaskStore persists tasks, their stages, and cached input with expiry
// enforced by the store itself. Implementations must serialize writes per
// task so concurrent stage writes are never lost.
type TaskStore interface {
	// Create inserts a queued task. Returns ErrAlreadyExists on collision.
	Create(ctx context.Context, taskID, label string) error

	// PutStage replaces or appends the named stage atomically.
	// Returns ErrNotFound or ErrInvalidTransition.
	PutStage(ctx context.Context, taskID string, rec StageRecord) error

	// SetStatus applies a task status change.
	// Returns ErrNotFound or ErrInvalidTransition.
	SetStatus(ctx context.Context, taskID string, change StatusChange) error

	// Get returns the task with its ordered stages. Returns ErrNotFound.
	Get(ctx context.Context, taskID string) (*Task, error)

	// ListRecent returns up to limit live tasks, most recently created first.
	// Stale index entries are skipped.
	ListRecent(ctx context.Context, limit int) ([]*Task, error)

	// PutInput caches the original submission for retry.
	// Returns ErrNotFound or ErrAlreadyExists.
	PutInput(ctx context.Context, taskID string, data []byte) error

	// GetInput returns the cached submission. Returns ErrExpired when the
	// task is alive but the input window elapsed, ErrNotFound otherwise.
	GetInput(ctx context.Context, taskID string) ([]byte, error)

	// Delete removes every trace of the task. Deleting an absent task is not
	// an error.
	Delete(ctx context.Context, taskID string) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// Retention configures how long stores keep records.
type Retention struct {
	// TaskTTL bounds task and stage records; every write refreshes it.
	TaskTTL time.Duration
	// InputTTL bounds cached input; it is never refreshed.
	InputTTL time.Duration
}

// Default retention windows.
const (
	DefaultTaskTTL  = 7 * 24 * time.Hour
	DefaultInputTTL = 2 * 24 * time.Hour
)

// DefaultRetention returns a week of history and two days of cached input.
func DefaultRetention() Retention {
	return Retention{TaskTTL: DefaultTaskTTL, InputTTL: DefaultInputTTL}
}

// WithDefaults fills zero windows with the defaults.
func (r Retention) WithDefaults() Retention {
	if r.TaskTTL <= 0 {
		r.TaskTTL = DefaultTaskTTL
	}
	if r.InputTTL <= 0 {
		r.InputTTL = DefaultInputTTL
	}
	return r
}

// Notifier hands a persisted update to the fan-out layer. It never blocks on
// observers and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, u Update)
}
