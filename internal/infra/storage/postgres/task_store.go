// Package postgres implements progress.TaskStore on PostgreSQL.
//
// Expiry is stored as an absolute timestamp and compared against the
// injected clock in every query, so expired rows read as absent until a
// later Create purges them.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/infra/storage"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

var _ progress.TaskStore = (*TaskStore)(nil)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

// TaskStore is a progress.TaskStore backed by PostgreSQL. Per-task writes
// serialize on a row lock of the task.
type TaskStore struct {
	pool      *pgxpool.Pool
	retention progress.Retention
	clock     timeutil.Provider
	tracer    trace.Tracer
}

// NewTaskStore creates a store over an existing pool. Call Migrate first.
func NewTaskStore(pool *pgxpool.Pool, retention progress.Retention, clock timeutil.Provider, tracer trace.Tracer) *TaskStore {
	return &TaskStore{
		pool:      pool,
		retention: retention.WithDefaults(),
		clock:     clock,
		tracer:    tracer,
	}
}

func dbAttrs(taskID string, extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+1+len(extra))
	out = append(out, defaultDBAttributes...)
	out = append(out, attribute.String("task_id", taskID))
	return append(out, extra...)
}

// jsonArg maps an absent payload to SQL NULL.
func jsonArg(p progress.Payload) any {
	if p.IsNone() {
		return nil
	}
	return string(p.Raw())
}

// Create inserts a queued task after clearing any expired row with the same id.
func (s *TaskStore) Create(ctx context.Context, taskID, label string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_task", dbAttrs(taskID), func(ctx context.Context) error {
		now := s.clock.Now()
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, purgeExpiredTasksQuery, now); err != nil {
				return storage.Unavailable("purge expired tasks", err)
			}
			if _, err := tx.Exec(ctx, deleteExpiredTaskQuery, taskID, now); err != nil {
				return storage.Unavailable("delete expired task", err)
			}

			tag, err := tx.Exec(ctx, insertTaskQuery, taskID, label, now, now.Add(s.retention.TaskTTL))
			if err != nil {
				return storage.Unavailable("insert task", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("task %s: %w", taskID, progress.ErrAlreadyExists)
			}
			return nil
		})
	})
}

// lockTask takes the row lock of a live task and returns its status.
func (s *TaskStore) lockTask(ctx context.Context, tx pgx.Tx, taskID string, now time.Time) (progress.TaskStatus, *time.Time, error) {
	var (
		status      string
		inputExpiry *time.Time
	)
	err := tx.QueryRow(ctx, lockTaskQuery, taskID, now).Scan(&status, &inputExpiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
	}
	if err != nil {
		return "", nil, storage.Unavailable("lock task", err)
	}
	return progress.TaskStatus(status), inputExpiry, nil
}

// PutStage replaces or appends the named stage under the task row lock.
func (s *TaskStore) PutStage(ctx context.Context, taskID string, rec progress.StageRecord) error {
	attrs := dbAttrs(taskID, attribute.String("stage", rec.Stage), attribute.String("status", rec.Status.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_stage", attrs, func(ctx context.Context) error {
		now := s.clock.Now()
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, _, err := s.lockTask(ctx, tx, taskID, now); err != nil {
				return err
			}

			var prev string
			err := tx.QueryRow(ctx, getStageStatusQuery, taskID, rec.Stage).Scan(&prev)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				_, err = tx.Exec(ctx, insertStageQuery,
					taskID, rec.Stage, rec.Status.String(), rec.Message, jsonArg(rec.Data), rec.Timestamp)
				if err != nil {
					return storage.Unavailable("insert stage", err)
				}
			case err != nil:
				return storage.Unavailable("get stage", err)
			default:
				if err := progress.StageStatus(prev).ValidateTransition(rec.Status); err != nil {
					return fmt.Errorf("stage %s: %w", rec.Stage, err)
				}
				_, err = tx.Exec(ctx, updateStageQuery,
					taskID, rec.Stage, rec.Status.String(), rec.Message, jsonArg(rec.Data), rec.Timestamp)
				if err != nil {
					return storage.Unavailable("update stage", err)
				}
			}

			if _, err := tx.Exec(ctx, touchTaskQuery, taskID, rec.Timestamp, now.Add(s.retention.TaskTTL)); err != nil {
				return storage.Unavailable("touch task", err)
			}
			return nil
		})
	})
}

// SetStatus applies a status change under the task row lock.
func (s *TaskStore) SetStatus(ctx context.Context, taskID string, change progress.StatusChange) error {
	attrs := dbAttrs(taskID, attribute.String("status", change.Status.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.set_status", attrs, func(ctx context.Context) error {
		now := s.clock.Now()
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			current, _, err := s.lockTask(ctx, tx, taskID, now)
			if err != nil {
				return err
			}
			if err := current.ValidateTransition(change.Status); err != nil {
				return fmt.Errorf("task %s: %w", taskID, err)
			}

			_, err = tx.Exec(ctx, updateStatusQuery,
				taskID, change.Status.String(), jsonArg(change.Result), change.Error, now, now.Add(s.retention.TaskTTL))
			if err != nil {
				return storage.Unavailable("update status", err)
			}
			return nil
		})
	})
}

// Get returns the task with its stages in first-seen order.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*progress.Task, error) {
	var task *progress.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_task", dbAttrs(taskID), func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, getTaskQuery, taskID, s.clock.Now())
		if err != nil {
			return storage.Unavailable("get task", err)
		}
		tasks, err := collectTasks(rows)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
		}
		if err := s.attachStages(ctx, tasks); err != nil {
			return err
		}
		task = tasks[0]
		return nil
	})
	return task, err
}

// ListRecent returns live tasks newest first.
func (s *TaskStore) ListRecent(ctx context.Context, limit int) ([]*progress.Task, error) {
	var tasks []*progress.Task
	attrs := append(defaultDBAttributes[:len(defaultDBAttributes):len(defaultDBAttributes)], attribute.Int("limit", limit))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_recent", attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, listRecentTasksQuery, s.clock.Now(), limit)
		if err != nil {
			return storage.Unavailable("list recent", err)
		}
		if tasks, err = collectTasks(rows); err != nil {
			return err
		}
		return s.attachStages(ctx, tasks)
	})
	return tasks, err
}

func collectTasks(rows pgx.Rows) ([]*progress.Task, error) {
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*progress.Task, error) {
		var (
			id, label, status, errMsg string
			result                    []byte
			created, updated          time.Time
			inputExpiry               *time.Time
		)
		if err := row.Scan(&id, &label, &status, &result, &errMsg, &created, &updated, &inputExpiry); err != nil {
			return nil, err
		}

		task := progress.NewTask(id, label, created.UTC())
		task.Status = progress.TaskStatus(status)
		task.UpdatedAt = updated.UTC()
		task.Error = errMsg
		if inputExpiry != nil {
			task.InputExpiresAt = inputExpiry.UTC()
		}

		var err error
		if task.Result, err = progress.JSONPayload(result); err != nil {
			return nil, fmt.Errorf("task %s result: %w", id, err)
		}
		return task, nil
	})
	if err != nil {
		return nil, storage.Unavailable("scan tasks", err)
	}
	return tasks, nil
}

func (s *TaskStore) attachStages(ctx context.Context, tasks []*progress.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	byID := make(map[string]*progress.Task, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
		ids = append(ids, t.TaskID)
	}

	rows, err := s.pool.Query(ctx, listStagesQuery, ids)
	if err != nil {
		return storage.Unavailable("list stages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			taskID, stage, status, message string
			data                           []byte
			ts                             time.Time
		)
		if err := rows.Scan(&taskID, &stage, &status, &message, &data, &ts); err != nil {
			return storage.Unavailable("scan stage", err)
		}
		payload, err := progress.JSONPayload(data)
		if err != nil {
			return fmt.Errorf("stage %s data: %w", stage, err)
		}

		task, ok := byID[taskID]
		if !ok {
			continue
		}
		task.Stages = append(task.Stages, progress.StageRecord{
			Stage:     stage,
			Status:    progress.StageStatus(status),
			Message:   message,
			Data:      payload,
			Timestamp: ts.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return storage.Unavailable("list stages", err)
	}
	return nil
}

// PutInput caches the submission once per task.
func (s *TaskStore) PutInput(ctx context.Context, taskID string, data []byte) error {
	attrs := dbAttrs(taskID, attribute.Int("input_size", len(data)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_input", attrs, func(ctx context.Context) error {
		now := s.clock.Now()
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			_, inputExpiry, err := s.lockTask(ctx, tx, taskID, now)
			if err != nil {
				return err
			}
			if inputExpiry != nil {
				return fmt.Errorf("input for task %s: %w", taskID, progress.ErrAlreadyExists)
			}

			expiresAt := now.Add(s.retention.InputTTL)
			if _, err := tx.Exec(ctx, insertInputQuery, taskID, data, expiresAt); err != nil {
				return storage.Unavailable("insert input", err)
			}
			if _, err := tx.Exec(ctx, markInputQuery, taskID, expiresAt); err != nil {
				return storage.Unavailable("mark input", err)
			}
			return nil
		})
	})
}

// GetInput returns the cached submission while its window is open.
func (s *TaskStore) GetInput(ctx context.Context, taskID string) ([]byte, error) {
	var data []byte
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_input", dbAttrs(taskID), func(ctx context.Context) error {
		now := s.clock.Now()

		var inputExpiry *time.Time
		err := s.pool.QueryRow(ctx, getInputQuery, taskID, now).Scan(&inputExpiry, &data)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
		case err != nil:
			return storage.Unavailable("get input", err)
		case inputExpiry == nil:
			return fmt.Errorf("input for task %s: %w", taskID, progress.ErrNotFound)
		case !now.Before(*inputExpiry) || data == nil:
			data = nil
			return fmt.Errorf("input for task %s: %w", taskID, progress.ErrExpired)
		}
		return nil
	})
	return data, err
}

// Delete removes the task; stages and input cascade.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_task", dbAttrs(taskID), func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, deleteTaskQuery, taskID); err != nil {
			return storage.Unavailable("delete task", err)
		}
		return nil
	})
}

// Ping checks connectivity.
func (s *TaskStore) Ping(ctx context.Context) error {
	return storage.Unavailable("ping", s.pool.Ping(ctx))
}
