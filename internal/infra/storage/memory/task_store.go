// Package memory provides an in-process progress.TaskStore for single
// instance deployments and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/infra/storage"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

var _ progress.TaskStore = (*TaskStore)(nil)

var defaultAttributes = []attribute.KeyValue{attribute.String("db.system", "memory")}

// entry holds one task. Its mutex serializes every write to the task so the
// replace-or-append on stages is atomic.
type entry struct {
	mu        sync.Mutex
	task      *progress.Task
	expiresAt time.Time
	input     []byte
	removed   bool
}

func (e *entry) expired(now time.Time) bool { return !now.Before(e.expiresAt) }

type indexEntry struct {
	createdAt time.Time
	taskID    string
	entry     *entry
}

// TaskStore keeps tasks in a map with a creation-time index. Expiry is
// evaluated against the injected clock on every access.
type TaskStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	index   []indexEntry // ascending by createdAt

	retention progress.Retention
	clock     timeutil.Provider
	tracer    trace.Tracer
}

// NewTaskStore creates an empty store.
func NewTaskStore(retention progress.Retention, clock timeutil.Provider, tracer trace.Tracer) *TaskStore {
	return &TaskStore{
		entries:   make(map[string]*entry),
		retention: retention.WithDefaults(),
		clock:     clock,
		tracer:    tracer,
	}
}

func attrs(taskID string) []attribute.KeyValue {
	return append(slices.Clone(defaultAttributes), attribute.String("task_id", taskID))
}

// Create inserts a queued task, replacing an expired one with the same id.
func (s *TaskStore) Create(ctx context.Context, taskID, label string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "memory.create_task", attrs(taskID), func(ctx context.Context) error {
		now := s.clock.Now()

		s.mu.Lock()
		defer s.mu.Unlock()

		if existing, ok := s.entries[taskID]; ok {
			existing.mu.Lock()
			live := !existing.removed && !existing.expired(now)
			if !live {
				existing.removed = true
			}
			existing.mu.Unlock()
			if live {
				return fmt.Errorf("task %s: %w", taskID, progress.ErrAlreadyExists)
			}
		}

		e := &entry{task: progress.NewTask(taskID, label, now), expiresAt: now.Add(s.retention.TaskTTL)}
		s.entries[taskID] = e

		pos := sort.Search(len(s.index), func(i int) bool { return s.index[i].createdAt.After(now) })
		s.index = slices.Insert(s.index, pos, indexEntry{createdAt: now, taskID: taskID, entry: e})
		return nil
	})
}

// withTask locks the live entry for taskID and runs fn against it.
func (s *TaskStore) withTask(taskID string, fn func(e *entry, now time.Time) error) error {
	s.mu.RLock()
	e, ok := s.entries[taskID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.clock.Now()
	if e.removed || e.expired(now) {
		return fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
	}
	return fn(e, now)
}

// PutStage replaces or appends the named stage under the task's lock.
func (s *TaskStore) PutStage(ctx context.Context, taskID string, rec progress.StageRecord) error {
	spanAttrs := append(attrs(taskID), attribute.String("stage", rec.Stage), attribute.String("status", string(rec.Status)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "memory.put_stage", spanAttrs, func(ctx context.Context) error {
		return s.withTask(taskID, func(e *entry, now time.Time) error {
			if err := e.task.ApplyStage(rec); err != nil {
				return err
			}
			e.expiresAt = now.Add(s.retention.TaskTTL)
			return nil
		})
	})
}

// SetStatus applies a status change under the task's lock.
func (s *TaskStore) SetStatus(ctx context.Context, taskID string, change progress.StatusChange) error {
	spanAttrs := append(attrs(taskID), attribute.String("status", string(change.Status)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "memory.set_status", spanAttrs, func(ctx context.Context) error {
		return s.withTask(taskID, func(e *entry, now time.Time) error {
			if err := e.task.ApplyStatus(change, now); err != nil {
				return fmt.Errorf("task %s: %w", taskID, err)
			}
			e.expiresAt = now.Add(s.retention.TaskTTL)
			return nil
		})
	})
}

// Get returns a copy of the task.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*progress.Task, error) {
	var task *progress.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "memory.get_task", attrs(taskID), func(ctx context.Context) error {
		return s.withTask(taskID, func(e *entry, _ time.Time) error {
			task = e.task.Clone()
			return nil
		})
	})
	return task, err
}

// ListRecent walks the index newest first, dropping entries whose task was
// deleted or has expired.
func (s *TaskStore) ListRecent(ctx context.Context, limit int) ([]*progress.Task, error) {
	var tasks []*progress.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "memory.list_recent", defaultAttributes, func(ctx context.Context) error {
		now := s.clock.Now()

		s.mu.Lock()
		defer s.mu.Unlock()

		live := s.index[:0]
		var newestFirst []*entry
		for _, ie := range s.index {
			ie.entry.mu.Lock()
			dead := ie.entry.removed || ie.entry.expired(now)
			ie.entry.mu.Unlock()
			if dead {
				if s.entries[ie.taskID] == ie.entry {
					delete(s.entries, ie.taskID)
				}
				continue
			}
			live = append(live, ie)
		}
		clear(s.index[len(live):])
		s.index = live

		for i := len(s.index) - 1; i >= 0 && len(newestFirst) < limit; i-- {
			newestFirst = append(newestFirst, s.index[i].entry)
		}

		tasks = make([]*progress.Task, 0, len(newestFirst))
		for _, e := range newestFirst {
			e.mu.Lock()
			tasks = append(tasks, e.task.Clone())
			e.mu.Unlock()
		}
		return nil
	})
	return tasks, err
}

// PutInput caches the submission once.
func (s *TaskStore) PutInput(ctx context.Context, taskID string, data []byte) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "memory.put_input", attrs(taskID), func(ctx context.Context) error {
		return s.withTask(taskID, func(e *entry, now time.Time) error {
			if !e.task.InputExpiresAt.IsZero() {
				return fmt.Errorf("input for task %s: %w", taskID, progress.ErrAlreadyExists)
			}
			e.input = slices.Clone(data)
			e.task.InputExpiresAt = now.Add(s.retention.InputTTL)
			return nil
		})
	})
}

// GetInput returns the cached submission, or ErrExpired once its window passed.
func (s *TaskStore) GetInput(ctx context.Context, taskID string) ([]byte, error) {
	var data []byte
	err := storage.ExecuteAndTrace(ctx, s.tracer, "memory.get_input", attrs(taskID), func(ctx context.Context) error {
		return s.withTask(taskID, func(e *entry, now time.Time) error {
			switch {
			case e.task.InputExpiresAt.IsZero():
				return fmt.Errorf("input for task %s: %w", taskID, progress.ErrNotFound)
			case !e.task.Retryable(now):
				e.input = nil
				return fmt.Errorf("input for task %s: %w", taskID, progress.ErrExpired)
			}
			data = slices.Clone(e.input)
			return nil
		})
	})
	return data, err
}

// Delete removes the task, its input and its index entry.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "memory.delete_task", attrs(taskID), func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		e, ok := s.entries[taskID]
		if !ok {
			return nil
		}
		delete(s.entries, taskID)

		e.mu.Lock()
		e.removed = true
		e.input = nil
		e.mu.Unlock()

		s.index = slices.DeleteFunc(s.index, func(ie indexEntry) bool { return ie.entry == e })
		return nil
	})
}

// Ping always succeeds.
func (s *TaskStore) Ping(context.Context) error { return nil }
