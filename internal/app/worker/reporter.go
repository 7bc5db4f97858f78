package worker

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appprogress "github.com/ahrav/curation-progress/internal/app/progress"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

// Reporter records progress for running jobs. Every write is persisted
// through the Manager first and only relayed to observers once stored, so
// observers never see state the store does not hold.
type Reporter struct {
	manager  *appprogress.Manager
	notifier progress.Notifier
	clock    timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewReporter creates a Reporter.
func NewReporter(
	manager *appprogress.Manager,
	notifier progress.Notifier,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Reporter {
	return &Reporter{
		manager:  manager,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With("component", "progress_reporter"),
		tracer:   tracer,
	}
}

// Stage persists a stage transition and relays it.
func (r *Reporter) Stage(
	ctx context.Context,
	taskID, stage string,
	status progress.StageStatus,
	message string,
	data progress.Payload,
) error {
	rec, err := r.manager.UpdateStage(ctx, appprogress.StageReport{
		TaskID:  taskID,
		Stage:   stage,
		Status:  status,
		Message: message,
		Data:    data,
	})
	if err != nil {
		r.logger.Error(ctx, "Failed to persist stage", "task_id", taskID, "stage", stage, "error", err)
		return err
	}

	r.notifier.Notify(ctx, progress.NewStageUpdate(taskID, rec))
	return nil
}

// Start marks the task as processing. Status-only changes are not broadcast.
func (r *Reporter) Start(ctx context.Context, taskID string) error {
	return r.manager.UpdateStatus(ctx, appprogress.StatusReport{
		TaskID: taskID,
		Status: progress.TaskStatusProcessing,
	})
}

// Complete records the result and relays a task_completed update.
func (r *Reporter) Complete(ctx context.Context, taskID, label string, result progress.Payload) error {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("task_completed", trace.WithAttributes(attribute.String("task_id", taskID)))

	if err := r.manager.UpdateStatus(ctx, appprogress.StatusReport{
		TaskID: taskID,
		Status: progress.TaskStatusCompleted,
		Result: result,
	}); err != nil {
		r.logger.Error(ctx, "Failed to persist completion", "task_id", taskID, "error", err)
		return err
	}

	r.notifier.Notify(ctx, progress.NewCompletedUpdate(taskID, label, result, r.clock.Now()))
	return nil
}

// Fail records the failure and relays a task_failed update.
func (r *Reporter) Fail(ctx context.Context, taskID, label, errMsg string) error {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("task_failed", trace.WithAttributes(attribute.String("task_id", taskID)))

	if err := r.manager.UpdateStatus(ctx, appprogress.StatusReport{
		TaskID: taskID,
		Status: progress.TaskStatusFailed,
		Error:  errMsg,
	}); err != nil {
		r.logger.Error(ctx, "Failed to persist failure", "task_id", taskID, "error", err)
		return err
	}

	r.notifier.Notify(ctx, progress.NewFailedUpdate(taskID, label, errMsg, r.clock.Now()))
	return nil
}

// TaskReporter is a Reporter bound to one task.
type TaskReporter struct {
	r      *Reporter
	TaskID string
	Label  string
}

// ForTask binds the reporter to a task.
func (r *Reporter) ForTask(taskID, label string) *TaskReporter {
	return &TaskReporter{r: r, TaskID: taskID, Label: label}
}

// Stage persists and relays a stage transition of the bound task.
func (t *TaskReporter) Stage(ctx context.Context, stage string, status progress.StageStatus, message string, data progress.Payload) error {
	return t.r.Stage(ctx, t.TaskID, stage, status, message, data)
}
