package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/app/execution"
	domain "github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

// RetryResult describes a re-queued task.
type RetryResult struct {
	OriginalTaskID string
	NewTaskID      string
	Label          string
}

// RetryCoordinator re-runs a task from its cached input under a new id. The
// original task is left untouched.
type RetryCoordinator struct {
	manager  *Manager
	executor execution.Executor
	clock    timeutil.Provider
	newID    func() string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRetryCoordinator creates a coordinator that submits retried jobs to executor.
func NewRetryCoordinator(
	manager *Manager,
	executor execution.Executor,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *RetryCoordinator {
	return &RetryCoordinator{
		manager:  manager,
		executor: executor,
		clock:    clock,
		newID:    uuid.NewString,
		logger:   logger.With("component", "retry_coordinator"),
		tracer:   tracer,
	}
}

// Retry re-queues originalTaskID. It returns ErrNotFound when the task is
// gone and ErrExpired when the task exists but no input can be recovered.
func (r *RetryCoordinator) Retry(ctx context.Context, originalTaskID string) (RetryResult, error) {
	ctx, span := r.tracer.Start(ctx, "retry_coordinator.retry",
		trace.WithAttributes(attribute.String("original_task_id", originalTaskID)))
	defer span.End()

	original, err := r.manager.GetTask(ctx, originalTaskID)
	if err != nil {
		return RetryResult{}, fail(span, err, "original task unavailable")
	}

	input, err := r.manager.GetInput(ctx, originalTaskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// The task is alive, so missing input means it was never cached or
		// has already been evicted. Either way the caller must re-upload.
		err = fmt.Errorf("input for task %s: %w", originalTaskID, domain.ErrExpired)
		return RetryResult{}, fail(span, err, "input missing")
	case err != nil:
		return RetryResult{}, fail(span, err, "input unavailable")
	}

	newID := r.newID()
	span.SetAttributes(attribute.String("new_task_id", newID))

	if err := r.manager.CreateTask(ctx, newID, original.Label); err != nil {
		return RetryResult{}, fail(span, err, "failed to create retry task")
	}
	if err := r.manager.CacheInput(ctx, newID, input); err != nil {
		return RetryResult{}, fail(span, err, "failed to cache retry input")
	}

	job := domain.Job{
		TaskID:      newID,
		Label:       original.Label,
		Input:       input,
		SubmittedAt: r.clock.Now(),
		RetryOf:     originalTaskID,
	}
	if err := r.executor.Submit(ctx, job); err != nil {
		// Leave a visible failure rather than a retry stuck in queued.
		if uerr := r.manager.UpdateStatus(ctx, StatusReport{
			TaskID: newID,
			Status: domain.TaskStatusFailed,
			Error:  "failed to submit job: " + err.Error(),
		}); uerr != nil {
			r.logger.Error(ctx, "Failed to mark retry task failed", "new_task_id", newID, "error", uerr)
		}
		return RetryResult{}, fail(span, err, "failed to submit retry job")
	}

	span.AddEvent("retry_submitted")
	r.logger.Info(ctx, "Task retried",
		"original_task_id", originalTaskID,
		"new_task_id", newID,
		"label", original.Label,
	)

	return RetryResult{OriginalTaskID: originalTaskID, NewTaskID: newID, Label: original.Label}, nil
}
