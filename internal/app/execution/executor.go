// Package execution is the boundary between task bookkeeping and whatever
// actually runs a curation job.
package execution

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

// Executor accepts jobs for asynchronous execution. Submit returns once the
// job is handed off; progress arrives later through the Progress Manager.
type Executor interface {
	Submit(ctx context.Context, job progress.Job) error
}

var _ Executor = (*BusExecutor)(nil)

// BusExecutor hands jobs to workers by publishing a JobSubmitted event keyed
// by task id.
type BusExecutor struct {
	publisher events.DomainEventPublisher
	clock     timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBusExecutor creates an executor that publishes through publisher.
func NewBusExecutor(
	publisher events.DomainEventPublisher,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *BusExecutor {
	return &BusExecutor{
		publisher: publisher,
		clock:     clock,
		logger:    logger.With("component", "bus_executor"),
		tracer:    tracer,
	}
}

// Submit validates and publishes job.
func (e *BusExecutor) Submit(ctx context.Context, job progress.Job) error {
	ctx, span := e.tracer.Start(ctx, "bus_executor.submit",
		trace.WithAttributes(
			attribute.String("task_id", job.TaskID),
			attribute.String("retry_of", job.RetryOf),
			attribute.Int("input_size", len(job.Input)),
		))
	defer span.End()

	if err := job.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid job")
		return err
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = e.clock.Now()
	}

	evt := events.DomainEvent{
		Type:      events.EventTypeJobSubmitted,
		Key:       job.TaskID,
		Timestamp: job.SubmittedAt,
		Payload:   job,
	}
	if err := e.publisher.PublishDomainEvent(ctx, evt, events.WithKey(job.TaskID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish job")
		return fmt.Errorf("failed to submit job for task %s: %w", job.TaskID, err)
	}

	span.AddEvent("job_submitted")
	e.logger.Debug(ctx, "Job submitted", "task_id", job.TaskID, "retry_of", job.RetryOf)
	return nil
}
