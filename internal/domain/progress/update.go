package progress

import (
	"encoding/json"
	"fmt"
	"time"
)

// UpdateType distinguishes the live messages pushed to observers.
type UpdateType string

const (
	UpdateTaskProgress  UpdateType = "task_progress"
	UpdateTaskCompleted UpdateType = "task_completed"
	UpdateTaskFailed    UpdateType = "task_failed"
)

// Update is one live notification about a task. Which fields are meaningful
// depends on Type.
type Update struct {
	Type      UpdateType
	TaskID    string
	Label     string
	Stage     string
	Status    StageStatus
	Message   string
	Data      Payload
	Result    Payload
	Error     string
	Timestamp time.Time
}

// NewStageUpdate builds a task_progress update from a persisted stage record.
func NewStageUpdate(taskID string, rec StageRecord) Update {
	return Update{
		Type:      UpdateTaskProgress,
		TaskID:    taskID,
		Stage:     rec.Stage,
		Status:    rec.Status,
		Message:   rec.Message,
		Data:      rec.Data,
		Timestamp: rec.Timestamp,
	}
}

// NewCompletedUpdate builds a task_completed update.
func NewCompletedUpdate(taskID, label string, result Payload, ts time.Time) Update {
	return Update{Type: UpdateTaskCompleted, TaskID: taskID, Label: label, Result: result, Timestamp: ts}
}

// NewFailedUpdate builds a task_failed update.
func NewFailedUpdate(taskID, label, errMsg string, ts time.Time) Update {
	return Update{Type: UpdateTaskFailed, TaskID: taskID, Label: label, Error: errMsg, Timestamp: ts}
}

// Validate checks the fields required by the update's type.
func (u Update) Validate() error {
	if err := ValidateTaskID(u.TaskID); err != nil {
		return err
	}
	switch u.Type {
	case UpdateTaskProgress:
		return StageRecord{Stage: u.Stage, Status: u.Status}.Validate()
	case UpdateTaskCompleted, UpdateTaskFailed:
		return nil
	default:
		return fmt.Errorf("update type %q is unknown: %w", u.Type, ErrInvalidArgument)
	}
}

type progressWire struct {
	Type      UpdateType      `json:"type"`
	TaskID    string          `json:"task_id"`
	Stage     string          `json:"stage"`
	Status    StageStatus     `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

type completedWire struct {
	Type      UpdateType `json:"type"`
	TaskID    string     `json:"task_id"`
	Label     string     `json:"label"`
	Result    Payload    `json:"result"`
	Timestamp string     `json:"timestamp"`
}

type failedWire struct {
	Type      UpdateType `json:"type"`
	TaskID    string     `json:"task_id"`
	Label     string     `json:"label"`
	Error     string     `json:"error"`
	Timestamp string     `json:"timestamp"`
}

// FormatTimestamp renders t the way every wire message does.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// MarshalJSON encodes the update in the shape observers expect for its type.
func (u Update) MarshalJSON() ([]byte, error) {
	ts := FormatTimestamp(u.Timestamp)
	switch u.Type {
	case UpdateTaskProgress:
		return json.Marshal(progressWire{
			Type:      u.Type,
			TaskID:    u.TaskID,
			Stage:     u.Stage,
			Status:    u.Status,
			Message:   u.Message,
			Data:      u.Data.OrEmptyObject(),
			Timestamp: ts,
		})
	case UpdateTaskCompleted:
		return json.Marshal(completedWire{Type: u.Type, TaskID: u.TaskID, Label: u.Label, Result: u.Result, Timestamp: ts})
	case UpdateTaskFailed:
		return json.Marshal(failedWire{Type: u.Type, TaskID: u.TaskID, Label: u.Label, Error: u.Error, Timestamp: ts})
	default:
		return nil, fmt.Errorf("update type %q is unknown: %w", u.Type, ErrInvalidArgument)
	}
}

type updateWire struct {
	Type      UpdateType  `json:"type"`
	TaskID    string      `json:"task_id"`
	Label     string      `json:"label"`
	Stage     string      `json:"stage"`
	Status    StageStatus `json:"status"`
	Message   string      `json:"message"`
	Data      Payload     `json:"data"`
	Result    Payload     `json:"result"`
	Error     string      `json:"error"`
	Timestamp string      `json:"timestamp"`
}

// UnmarshalJSON accepts any of the wire shapes. The legacy completion shape
// {"type": "completed"} is read as task_completed.
func (u *Update) UnmarshalJSON(b []byte) error {
	var w updateWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	typ := w.Type
	if typ == "completed" {
		typ = UpdateTaskCompleted
	}

	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := parseTimestamp(w.Timestamp)
		if err != nil {
			return fmt.Errorf("update timestamp %q: %w", w.Timestamp, ErrInvalidArgument)
		}
		ts = parsed
	}

	*u = Update{
		Type:      typ,
		TaskID:    w.TaskID,
		Label:     w.Label,
		Stage:     w.Stage,
		Status:    w.Status,
		Message:   w.Message,
		Data:      w.Data,
		Result:    w.Result,
		Error:     w.Error,
		Timestamp: ts,
	}
	return nil
}

// Workers written against naive ISO timestamps omit the zone; treat those as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp layout")
}
