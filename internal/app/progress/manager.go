// Package progress holds the application services that own task progress:
// the Manager that validates and persists progress, the Submitter that turns
// uploads into queued jobs, and the RetryCoordinator that re-queues failed
// work from cached input.
package progress

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

// Listing bounds for ListRecent.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// StageReport is a worker's report about one stage of a task.
type StageReport struct {
	TaskID  string
	Stage   string
	Status  domain.StageStatus
	Message string
	Data    domain.Payload
}

// StatusReport is a worker's report about the task as a whole.
type StatusReport struct {
	TaskID string
	Status domain.TaskStatus
	Result domain.Payload
	Error  string
}

// Manager is the single entry point for reading and writing task progress.
// It validates input, stamps stage records with the current time, and
// delegates to the TaskStore. Store errors are returned unchanged.
type Manager struct {
	store domain.TaskStore
	clock timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewManager creates a Manager over store.
func NewManager(store domain.TaskStore, clock timeutil.Provider, logger *logger.Logger, tracer trace.Tracer) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		logger: logger.With("component", "progress_manager"),
		tracer: tracer,
	}
}

func (m *Manager) startSpan(ctx context.Context, name, taskID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(append(attrs, attribute.String("task_id", taskID))...))
}

func fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

// CreateTask registers a new queued task.
func (m *Manager) CreateTask(ctx context.Context, taskID, label string) error {
	ctx, span := m.startSpan(ctx, "progress_manager.create_task", taskID)
	defer span.End()

	if err := domain.ValidateTaskID(taskID); err != nil {
		return fail(span, err, "invalid task id")
	}
	if strings.TrimSpace(label) == "" {
		return fail(span, fmt.Errorf("label is required: %w", domain.ErrInvalidArgument), "invalid label")
	}

	if err := m.store.Create(ctx, taskID, label); err != nil {
		return fail(span, err, "failed to create task")
	}

	m.logger.Info(ctx, "Task created", "task_id", taskID, "label", label)
	return nil
}

// CacheInput stores the original submission so the task can be retried.
func (m *Manager) CacheInput(ctx context.Context, taskID string, data []byte) error {
	ctx, span := m.startSpan(ctx, "progress_manager.cache_input", taskID, attribute.Int("input_size", len(data)))
	defer span.End()

	if err := domain.ValidateTaskID(taskID); err != nil {
		return fail(span, err, "invalid task id")
	}
	if len(data) == 0 {
		return fail(span, fmt.Errorf("input is empty: %w", domain.ErrInvalidArgument), "empty input")
	}

	if err := m.store.PutInput(ctx, taskID, data); err != nil {
		return fail(span, err, "failed to cache input")
	}
	return nil
}

// UpdateStage persists a stage report and returns the stored record, which
// carries the timestamp assigned here.
func (m *Manager) UpdateStage(ctx context.Context, report StageReport) (domain.StageRecord, error) {
	ctx, span := m.startSpan(ctx, "progress_manager.update_stage", report.TaskID,
		attribute.String("stage", report.Stage),
		attribute.String("status", report.Status.String()),
	)
	defer span.End()

	if err := domain.ValidateTaskID(report.TaskID); err != nil {
		return domain.StageRecord{}, fail(span, err, "invalid task id")
	}

	rec := domain.StageRecord{
		Stage:     report.Stage,
		Status:    report.Status,
		Message:   report.Message,
		Data:      report.Data,
		Timestamp: m.clock.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return domain.StageRecord{}, fail(span, err, "invalid stage report")
	}

	if err := m.store.PutStage(ctx, report.TaskID, rec); err != nil {
		return domain.StageRecord{}, fail(span, err, "failed to store stage")
	}

	m.logger.Debug(ctx, "Stage updated",
		"task_id", report.TaskID,
		"stage", rec.Stage,
		"status", rec.Status,
	)
	return rec, nil
}

// UpdateStatus persists a task level status change.
func (m *Manager) UpdateStatus(ctx context.Context, report StatusReport) error {
	ctx, span := m.startSpan(ctx, "progress_manager.update_status", report.TaskID,
		attribute.String("status", report.Status.String()))
	defer span.End()

	if err := domain.ValidateTaskID(report.TaskID); err != nil {
		return fail(span, err, "invalid task id")
	}

	change := domain.StatusChange{Status: report.Status, Result: report.Result, Error: report.Error}
	if err := change.Validate(); err != nil {
		return fail(span, err, "invalid status report")
	}

	if err := m.store.SetStatus(ctx, report.TaskID, change); err != nil {
		return fail(span, err, "failed to store status")
	}

	m.logger.Info(ctx, "Task status updated", "task_id", report.TaskID, "status", report.Status)
	return nil
}

// GetTask returns the task with its stages.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	ctx, span := m.startSpan(ctx, "progress_manager.get_task", taskID)
	defer span.End()

	if err := domain.ValidateTaskID(taskID); err != nil {
		return nil, fail(span, err, "invalid task id")
	}

	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, fail(span, err, "failed to get task")
	}
	return task, nil
}

// ClampLimit maps a requested page size onto the supported range.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// ListRecent returns the most recently created tasks, newest first.
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]*domain.Task, error) {
	limit = ClampLimit(limit)
	ctx, span := m.tracer.Start(ctx, "progress_manager.list_recent", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	tasks, err := m.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fail(span, err, "failed to list tasks")
	}
	span.SetAttributes(attribute.Int("count", len(tasks)))
	return tasks, nil
}

// GetInput returns the cached submission of a task.
func (m *Manager) GetInput(ctx context.Context, taskID string) ([]byte, error) {
	ctx, span := m.startSpan(ctx, "progress_manager.get_input", taskID)
	defer span.End()

	if err := domain.ValidateTaskID(taskID); err != nil {
		return nil, fail(span, err, "invalid task id")
	}

	data, err := m.store.GetInput(ctx, taskID)
	if err != nil {
		return nil, fail(span, err, "failed to get input")
	}
	return data, nil
}

// DeleteTask removes a task and everything stored with it.
func (m *Manager) DeleteTask(ctx context.Context, taskID string) error {
	ctx, span := m.startSpan(ctx, "progress_manager.delete_task", taskID)
	defer span.End()

	if err := domain.ValidateTaskID(taskID); err != nil {
		return fail(span, err, "invalid task id")
	}

	if err := m.store.Delete(ctx, taskID); err != nil {
		return fail(span, err, "failed to delete task")
	}

	m.logger.Info(ctx, "Task deleted", "task_id", taskID)
	return nil
}

// Ping reports whether the store is reachable.
func (m *Manager) Ping(ctx context.Context) error { return m.store.Ping(ctx) }
