package progress

import (
	"fmt"
	"strings"
	"time"

	regexp "github.com/wasilibs/go-re2"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidateTaskID checks that id is usable as a storage key.
func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("task_id is required: %w", ErrInvalidArgument)
	}
	if !taskIDPattern.MatchString(id) {
		return fmt.Errorf("task_id %q is malformed: %w", id, ErrInvalidArgument)
	}
	return nil
}

// StageRecord is the latest state reported for one named stage of a task.
type StageRecord struct {
	Stage     string
	Status    StageStatus
	Message   string
	Data      Payload
	Timestamp time.Time
}

// Validate checks the record carries a name and a known status.
func (r StageRecord) Validate() error {
	if strings.TrimSpace(r.Stage) == "" {
		return fmt.Errorf("stage is required: %w", ErrInvalidArgument)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("stage status %q is unknown: %w", r.Status, ErrInvalidArgument)
	}
	return nil
}

// StatusChange is a requested task level status write.
type StatusChange struct {
	Status TaskStatus
	Result Payload
	Error  string
}

// Validate enforces that a result accompanies only completion and an error
// message accompanies only failure.
func (c StatusChange) Validate() error {
	if !c.Status.IsValid() {
		return fmt.Errorf("task status %q is unknown: %w", c.Status, ErrInvalidArgument)
	}
	if !c.Result.IsNone() && c.Status != TaskStatusCompleted {
		return fmt.Errorf("result is only allowed with status completed: %w", ErrInvalidArgument)
	}
	if c.Error != "" && c.Status != TaskStatusFailed {
		return fmt.Errorf("error is only allowed with status failed: %w", ErrInvalidArgument)
	}
	return nil
}

// Task is one submitted job together with its ordered stage history.
type Task struct {
	TaskID    string
	Label     string
	Status    TaskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Result    Payload
	Error     string
	Stages    []StageRecord

	// InputExpiresAt is when the cached input stops being retrievable. It is
	// zero when no input was cached for the task.
	InputExpiresAt time.Time
}

// NewTask returns a queued task with an empty stage list.
func NewTask(taskID, label string, now time.Time) *Task {
	return &Task{
		TaskID:    taskID,
		Label:     label,
		Status:    TaskStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Stages:    []StageRecord{},
	}
}

// Retryable reports whether the cached input is still available at now.
func (t *Task) Retryable(now time.Time) bool {
	return !t.InputExpiresAt.IsZero() && now.Before(t.InputExpiresAt)
}

// StageIndex returns the list position of the named stage, or -1.
func (t *Task) StageIndex(stage string) int {
	for i := range t.Stages {
		if t.Stages[i].Stage == stage {
			return i
		}
	}
	return -1
}

// ApplyStage records rec, replacing an existing record of the same name in
// place or appending a new one. A write without data keeps the data of the
// record it replaces.
func (t *Task) ApplyStage(rec StageRecord) error {
	idx := t.StageIndex(rec.Stage)
	if idx < 0 {
		t.Stages = append(t.Stages, rec)
		t.touch(rec.Timestamp)
		return nil
	}

	prev := t.Stages[idx]
	if err := prev.Status.ValidateTransition(rec.Status); err != nil {
		return fmt.Errorf("stage %s: %w", rec.Stage, err)
	}
	if rec.Data.IsNone() {
		rec.Data = prev.Data
	}
	t.Stages[idx] = rec
	t.touch(rec.Timestamp)
	return nil
}

// ApplyStatus moves the task to change.Status, recording the result or error.
func (t *Task) ApplyStatus(change StatusChange, now time.Time) error {
	if err := t.Status.ValidateTransition(change.Status); err != nil {
		return err
	}
	t.Status = change.Status
	switch change.Status {
	case TaskStatusCompleted:
		t.Result = change.Result
	case TaskStatusFailed:
		t.Error = change.Error
	}
	t.touch(now)
	return nil
}

func (t *Task) touch(now time.Time) {
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

// Clone returns a deep copy safe to hand across goroutines.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Stages = make([]StageRecord, len(t.Stages))
	copy(cp.Stages, t.Stages)
	return &cp
}
