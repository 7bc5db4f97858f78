package tasks

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahrav/curation-progress/internal/domain/progress"
)

// Stage is the JSON shape of one stage record.
type Stage struct {
	Stage     string          `json:"stage"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Task is the JSON shape of a task returned by the API.
type Task struct {
	TaskID         string          `json:"task_id"`
	Label          string          `json:"label"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	InputExpiresAt *time.Time      `json:"input_expires_at,omitempty"`
	Retryable      bool            `json:"retryable"`
	Stages         []Stage         `json:"stages"`
}

// Encode implements the web.Encoder interface.
func (t Task) Encode() ([]byte, string, error) {
	data, err := json.Marshal(t)
	return data, "application/json", err
}

// ToTask converts a domain task. now decides whether the task is still
// retryable.
func ToTask(t *progress.Task, now time.Time) Task {
	out := Task{
		TaskID:    t.TaskID,
		Label:     t.Label,
		Status:    t.Status.String(),
		CreatedAt: t.CreatedAt.UTC(),
		UpdatedAt: t.UpdatedAt.UTC(),
		Error:     t.Error,
		Retryable: t.Retryable(now),
		Stages:    make([]Stage, 0, len(t.Stages)),
	}
	if !t.Result.IsNone() {
		out.Result = t.Result.Raw()
	}
	if !t.InputExpiresAt.IsZero() {
		exp := t.InputExpiresAt.UTC()
		out.InputExpiresAt = &exp
	}
	for _, s := range t.Stages {
		out.Stages = append(out.Stages, Stage{
			Stage:     s.Stage,
			Status:    s.Status.String(),
			Message:   s.Message,
			Data:      s.Data.OrEmptyObject(),
			Timestamp: s.Timestamp.UTC(),
		})
	}
	return out
}

// List is the response of GET /tasks.
type List struct {
	Tasks []Task `json:"tasks"`
	Count int    `json:"count"`
}

// Encode implements the web.Encoder interface.
func (l List) Encode() ([]byte, string, error) {
	data, err := json.Marshal(l)
	return data, "application/json", err
}

// SubmitRequest is the body of POST /tasks. FileData travels as base64.
type SubmitRequest struct {
	Files []File `json:"files" validate:"required,min=1,dive"`
}

// File is one upload of a SubmitRequest.
type File struct {
	Label    string `json:"label" validate:"required"`
	FileData []byte `json:"file_data" validate:"required"`
}

// QueuedTask names a task created by a submission.
type QueuedTask struct {
	Label  string `json:"label"`
	TaskID string `json:"task_id"`
}

// SubmitResponse is the response of POST /tasks.
type SubmitResponse struct {
	Status     string       `json:"status"`
	TotalFiles int          `json:"total_files"`
	Tasks      []QueuedTask `json:"tasks"`
}

// Encode implements the web.Encoder interface.
func (s SubmitResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(s)
	return data, "application/json", err
}

// HTTPStatus implements the web.HTTPStatusSetter interface.
func (SubmitResponse) HTTPStatus() int { return http.StatusAccepted }

// RetryResponse is the response of POST /tasks/{id}/retry.
type RetryResponse struct {
	Status         string `json:"status"`
	OriginalTaskID string `json:"original_task_id"`
	NewTaskID      string `json:"new_task_id"`
	Label          string `json:"label"`
}

// Encode implements the web.Encoder interface.
func (r RetryResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(r)
	return data, "application/json", err
}
