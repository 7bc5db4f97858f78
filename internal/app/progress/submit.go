package progress

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/app/execution"
	domain "github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

// Upload is one file handed in for curation.
type Upload struct {
	Label string
	Data  []byte
}

// Submission pairs an upload with the task created for it.
type Submission struct {
	Label  string
	TaskID string
}

// Submitter turns uploads into queued tasks: it creates each task, caches
// its input for later retries, and hands the job to the executor.
type Submitter struct {
	manager  *Manager
	executor execution.Executor
	clock    timeutil.Provider
	newID    func() string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSubmitter creates a Submitter.
func NewSubmitter(
	manager *Manager,
	executor execution.Executor,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Submitter {
	return &Submitter{
		manager:  manager,
		executor: executor,
		clock:    clock,
		newID:    uuid.NewString,
		logger:   logger.With("component", "submitter"),
		tracer:   tracer,
	}
}

// Submit queues every upload. All uploads are validated before any task is
// created. On a later failure the already queued tasks are returned with the
// error.
func (s *Submitter) Submit(ctx context.Context, uploads []Upload) ([]Submission, error) {
	ctx, span := s.tracer.Start(ctx, "submitter.submit",
		trace.WithAttributes(attribute.Int("uploads", len(uploads))))
	defer span.End()

	if len(uploads) == 0 {
		return nil, fail(span, fmt.Errorf("no uploads: %w", domain.ErrInvalidArgument), "empty submission")
	}
	for i, u := range uploads {
		if strings.TrimSpace(u.Label) == "" {
			return nil, fail(span, fmt.Errorf("upload %d: label is required: %w", i, domain.ErrInvalidArgument), "invalid upload")
		}
		if len(u.Data) == 0 {
			return nil, fail(span, fmt.Errorf("upload %d: file data is empty: %w", i, domain.ErrInvalidArgument), "invalid upload")
		}
	}

	out := make([]Submission, 0, len(uploads))
	for _, u := range uploads {
		taskID := s.newID()
		if err := s.enqueue(ctx, taskID, u); err != nil {
			return out, fail(span, err, "failed to queue upload")
		}
		out = append(out, Submission{Label: u.Label, TaskID: taskID})
	}

	s.logger.Info(ctx, "Uploads queued", "count", len(out))
	return out, nil
}

func (s *Submitter) enqueue(ctx context.Context, taskID string, u Upload) error {
	if err := s.manager.CreateTask(ctx, taskID, u.Label); err != nil {
		return err
	}
	if err := s.manager.CacheInput(ctx, taskID, u.Data); err != nil {
		return err
	}

	job := domain.Job{TaskID: taskID, Label: u.Label, Input: u.Data, SubmittedAt: s.clock.Now()}
	if err := s.executor.Submit(ctx, job); err != nil {
		// Leave a visible, retryable failure rather than a task stuck in queued.
		if uerr := s.manager.UpdateStatus(ctx, StatusReport{
			TaskID: taskID,
			Status: domain.TaskStatusFailed,
			Error:  "failed to submit job: " + err.Error(),
		}); uerr != nil {
			s.logger.Error(ctx, "Failed to mark task failed", "task_id", taskID, "error", uerr)
		}
		return err
	}
	return nil
}
