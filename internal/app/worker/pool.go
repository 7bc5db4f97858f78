// Package worker runs curation jobs taken from the event bus and reports
// their progress.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

const (
	defaultConcurrency = 4
	defaultQueueSize   = 256
)

// ErrPoolSaturated is returned to the publisher when a job cannot be queued.
var ErrPoolSaturated = errors.New("worker pool queue is full")

// errPoolStopped is returned for jobs delivered after the pool stopped.
var errPoolStopped = errors.New("worker pool stopped")

type queuedJob struct {
	ctx context.Context
	job progress.Job
	ack events.AckFunc
}

// Pool consumes JobSubmitted events and runs at most Concurrency jobs at a
// time. Events are handed to a bounded queue drained by Concurrency workers,
// so the subscriber callback never waits for a running job. A job's event is
// acknowledged once the job has finished.
type Pool struct {
	bus         events.EventBus
	handler     Handler
	reporter    *Reporter
	concurrency int
	blocking    bool

	mu     sync.RWMutex
	jobs   chan queuedJob
	closed bool
	wg     sync.WaitGroup

	logger *logger.Logger
	tracer trace.Tracer
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueueSize bounds the number of accepted jobs waiting for a worker.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.jobs = make(chan queuedJob, n)
		}
	}
}

// WithBlockingHandoff makes the subscriber callback wait for queue space
// instead of rejecting the job. Use it only with buses that deliver on their
// own goroutine, such as the Kafka consumer, where waiting throttles the
// partition rather than the publisher.
func WithBlockingHandoff() PoolOption {
	return func(p *Pool) { p.blocking = true }
}

// NewPool creates a pool. A non-positive concurrency uses the default.
func NewPool(
	bus events.EventBus,
	handler Handler,
	reporter *Reporter,
	concurrency int,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...PoolOption,
) *Pool {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	p := &Pool{
		bus:         bus,
		handler:     handler,
		reporter:    reporter,
		concurrency: concurrency,
		jobs:        make(chan queuedJob, defaultQueueSize),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.With("component", "worker_pool", "concurrency", concurrency, "queue_size", cap(p.jobs))
	return p
}

// Start launches the workers and subscribes the pool to submitted jobs. When
// ctx ends the queue is closed; workers finish what was already accepted and
// exit.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.work()
	}
	go func() {
		<-ctx.Done()
		p.stop()
	}()

	if err := p.bus.Subscribe(ctx, []events.EventType{events.EventTypeJobSubmitted}, p.handleEvent); err != nil {
		p.stop()
		return fmt.Errorf("failed to subscribe worker pool: %w", err)
	}
	p.logger.Info(ctx, "Worker pool started")
	return nil
}

// Wait blocks until the workers have exited. The context passed to Start must
// be cancelled first.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

func (p *Pool) work() {
	defer p.wg.Done()
	for qj := range p.jobs {
		p.Run(qj.ctx, qj.job)
		qj.ack(nil)
	}
}

func (p *Pool) handleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	job, ok := evt.Payload.(progress.Job)
	if !ok {
		err := fmt.Errorf("unexpected payload %T for %s", evt.Payload, evt.Type)
		p.logger.Error(ctx, "Dropping job event", "error", err)
		ack(nil)
		return nil
	}

	if err := p.enqueue(ctx, queuedJob{ctx: context.WithoutCancel(ctx), job: job, ack: ack}); err != nil {
		p.logger.Warn(ctx, "Rejecting job", "task_id", job.TaskID, "error", err)
		ack(err)
		return err
	}
	return nil
}

// enqueue holds the read lock across the send so stop cannot close the
// channel underneath it. Workers keep draining while a blocking send waits.
func (p *Pool) enqueue(ctx context.Context, qj queuedJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPoolStopped
	}

	if p.blocking {
		select {
		case p.jobs <- qj:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case p.jobs <- qj:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Run executes a single job to completion, recording its terminal status.
func (p *Pool) Run(ctx context.Context, job progress.Job) {
	ctx, span := p.tracer.Start(ctx, "worker_pool.run_job",
		trace.WithAttributes(
			attribute.String("task_id", job.TaskID),
			attribute.String("retry_of", job.RetryOf),
		))
	defer span.End()

	lc := logger.NewLoggerContext(p.logger.With("task_id", job.TaskID)).Add("label", job.Label)
	if job.RetryOf != "" {
		lc.Add("retry_of", job.RetryOf)
	}

	if err := p.reporter.Start(ctx, job.TaskID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start task")
		if errors.Is(err, progress.ErrNotFound) || errors.Is(err, progress.ErrInvalidTransition) {
			// Deleted or already finished; nothing to run.
			lc.Done(ctx, "Skipping job", "reason", err.Error())
			return
		}
		lc.Error(ctx, "Failed to mark task processing", "error", err)
	}

	result, err := p.handler.Handle(ctx, job, p.reporter.ForTask(job.TaskID, job.Label))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		if rerr := p.reporter.Fail(ctx, job.TaskID, job.Label, err.Error()); rerr != nil {
			lc.Error(ctx, "Failed to record job failure", "error", rerr)
		}
		lc.Done(ctx, "Job failed", "error", err)
		return
	}

	if err := p.reporter.Complete(ctx, job.TaskID, job.Label, result); err != nil {
		span.RecordError(err)
		lc.Error(ctx, "Failed to record job completion", "error", err)
		return
	}
	lc.Done(ctx, "Job completed")
}
