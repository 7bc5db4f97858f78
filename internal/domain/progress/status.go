package progress

import (
	"fmt"
	"slices"
)

// TaskStatus is the lifecycle state of a submitted job.
type TaskStatus string

const (
	// TaskStatusQueued indicates the job was accepted but no worker picked it up yet.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusProcessing indicates a worker is executing the job.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted indicates the job finished and carries a result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the job stopped with an error message.
	TaskStatusFailed TaskStatus = "failed"
)

var taskStatuses = []TaskStatus{
	TaskStatusQueued,
	TaskStatusProcessing,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known task statuses.
func (s TaskStatus) IsValid() bool { return slices.Contains(taskStatuses, s) }

// IsTerminal reports whether no further status writes are accepted.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusQueued:
		return 0
	case TaskStatusProcessing:
		return 1
	case TaskStatusCompleted, TaskStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether a task in status s may move to target.
// Statuses only move forward, and terminal statuses are final.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	if !s.IsValid() || !target.IsValid() || s.IsTerminal() {
		return false
	}
	return target.rank() >= s.rank()
}

// ValidateTransition returns ErrInvalidTransition when s cannot move to target.
func (s TaskStatus) ValidateTransition(target TaskStatus) error {
	if !s.CanTransitionTo(target) {
		return fmt.Errorf("task status %s -> %s: %w", s, target, ErrInvalidTransition)
	}
	return nil
}

// TaskStatusPredecessors lists every status from which target is reachable.
// Stores that evaluate transitions server side receive this list instead of
// reimplementing the rules.
func TaskStatusPredecessors(target TaskStatus) []string {
	var out []string
	for _, s := range taskStatuses {
		if s.CanTransitionTo(target) {
			out = append(out, string(s))
		}
	}
	return out
}

// StageStatus is the state of one named phase within a task.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusProcessing StageStatus = "processing"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
)

var stageStatuses = []StageStatus{
	StageStatusPending,
	StageStatusProcessing,
	StageStatusCompleted,
	StageStatusFailed,
}

// String returns the string representation of the StageStatus.
func (s StageStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known stage statuses.
func (s StageStatus) IsValid() bool { return slices.Contains(stageStatuses, s) }

// IsTerminal reports whether the stage has finished.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusCompleted || s == StageStatusFailed
}

func (s StageStatus) rank() int {
	switch s {
	case StageStatusPending:
		return 0
	case StageStatusProcessing:
		return 1
	case StageStatusCompleted, StageStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether a stage in status s may be rewritten with
// target. A finished stage accepts a rewrite with the same status so workers
// can refresh its message and data, but never moves to a different status.
func (s StageStatus) CanTransitionTo(target StageStatus) bool {
	if !s.IsValid() || !target.IsValid() {
		return false
	}
	if s.IsTerminal() {
		return s == target
	}
	return target.rank() >= s.rank()
}

// ValidateTransition returns ErrInvalidTransition when s cannot move to target.
func (s StageStatus) ValidateTransition(target StageStatus) error {
	if !s.CanTransitionTo(target) {
		return fmt.Errorf("stage status %s -> %s: %w", s, target, ErrInvalidTransition)
	}
	return nil
}

// StageStatusPredecessors lists every status from which target is reachable.
func StageStatusPredecessors(target StageStatus) []string {
	var out []string
	for _, s := range stageStatuses {
		if s.CanTransitionTo(target) {
			out = append(out, string(s))
		}
	}
	return out
}
