// Package redis implements progress.TaskStore on Redis.
//
// Each task is spread over a handful of keys sharing the same TTL:
//
//	task:{id}             hash of task fields
//	task:{id}:stages      hash of stage name -> record JSON (without data)
//	task:{id}:stage_data  hash of stage name -> data JSON
//	task:{id}:stage_order list of stage names in first-seen order
//	task:{id}:input       cached submission bytes, with its own TTL
//	tasks:all             sorted set of task ids scored by creation time (ms)
//
// Writes that must observe the current state run as Lua scripts so they are
// atomic on the server. The scripts touch tasks:all, so the store assumes a
// single Redis node or a deployment that keeps these keys on one shard.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/infra/storage"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
)

var _ progress.TaskStore = (*TaskStore)(nil)

var defaultAttributes = []attribute.KeyValue{attribute.String("db.system", "redis")}

const indexKey = "tasks:all"

type taskKeys struct {
	task, stages, stageData, stageOrder, input string
}

func keysFor(taskID string) taskKeys {
	base := "task:" + taskID
	return taskKeys{
		task:       base,
		stages:     base + ":stages",
		stageData:  base + ":stage_data",
		stageOrder: base + ":stage_order",
		input:      base + ":input",
	}
}

func (k taskKeys) all() []string {
	return []string{k.task, k.stages, k.stageData, k.stageOrder, k.input}
}

// stageDoc is the stored form of a stage record. Data lives in its own hash
// so a write without data leaves it untouched.
type stageDoc struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// TaskStore is a progress.TaskStore backed by Redis.
type TaskStore struct {
	client    redis.UniversalClient
	retention progress.Retention
	clock     timeutil.Provider
	tracer    trace.Tracer
}

// NewTaskStore creates a store using an existing client.
func NewTaskStore(client redis.UniversalClient, retention progress.Retention, clock timeutil.Provider, tracer trace.Tracer) *TaskStore {
	return &TaskStore{
		client:    client,
		retention: retention.WithDefaults(),
		clock:     clock,
		tracer:    tracer,
	}
}

func attrs(taskID string, extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(defaultAttributes)+1+len(extra))
	out = append(out, defaultAttributes...)
	out = append(out, attribute.String("task_id", taskID))
	return append(out, extra...)
}

func (s *TaskStore) ttlMillis(d time.Duration) int64 { return d.Milliseconds() }

func toArgs(fixed []any, rest []string) []any {
	for _, r := range rest {
		fixed = append(fixed, r)
	}
	return fixed
}

// Create inserts a queued task and indexes it.
func (s *TaskStore) Create(ctx context.Context, taskID, label string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.create_task", attrs(taskID), func(ctx context.Context) error {
		k := keysFor(taskID)
		now := s.clock.Now()
		res, err := createScript.Run(ctx, s.client,
			[]string{k.task, k.stages, k.stageData, k.stageOrder, k.input, indexKey},
			taskID, label, now.UnixMicro(), now.UnixMilli(), s.ttlMillis(s.retention.TaskTTL),
		).Int()
		if err != nil {
			return storage.Unavailable("create task", err)
		}
		if res == resultAlreadyExists {
			return fmt.Errorf("task %s: %w", taskID, progress.ErrAlreadyExists)
		}
		return nil
	})
}

// PutStage replaces or appends the named stage in one script call.
func (s *TaskStore) PutStage(ctx context.Context, taskID string, rec progress.StageRecord) error {
	spanAttrs := attrs(taskID, attribute.String("stage", rec.Stage), attribute.String("status", rec.Status.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.put_stage", spanAttrs, func(ctx context.Context) error {
		doc, err := json.Marshal(stageDoc{
			Status:    rec.Status.String(),
			Message:   rec.Message,
			Timestamp: progress.FormatTimestamp(rec.Timestamp),
		})
		if err != nil {
			return fmt.Errorf("encode stage record: %w", err)
		}

		var data string
		if !rec.Data.IsNone() {
			data = string(rec.Data.Raw())
		}

		k := keysFor(taskID)
		args := toArgs(
			[]any{rec.Stage, rec.Status.String(), string(doc), data, rec.Timestamp.UnixMicro(), s.ttlMillis(s.retention.TaskTTL)},
			progress.StageStatusPredecessors(rec.Status),
		)
		res, err := putStageScript.Run(ctx, s.client, []string{k.task, k.stages, k.stageData, k.stageOrder}, args...).Int()
		if err != nil {
			return storage.Unavailable("put stage", err)
		}
		return scriptResult(taskID, res)
	})
}

// SetStatus applies a status change in one script call.
func (s *TaskStore) SetStatus(ctx context.Context, taskID string, change progress.StatusChange) error {
	spanAttrs := attrs(taskID, attribute.String("status", change.Status.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.set_status", spanAttrs, func(ctx context.Context) error {
		var result string
		if !change.Result.IsNone() {
			result = string(change.Result.Raw())
		}

		k := keysFor(taskID)
		args := toArgs(
			[]any{change.Status.String(), result, change.Error, s.clock.Now().UnixMicro(), s.ttlMillis(s.retention.TaskTTL)},
			progress.TaskStatusPredecessors(change.Status),
		)
		res, err := setStatusScript.Run(ctx, s.client, []string{k.task, k.stages, k.stageData, k.stageOrder}, args...).Int()
		if err != nil {
			return storage.Unavailable("set status", err)
		}
		if res == resultInvalidTransition {
			return fmt.Errorf("task %s -> %s: %w", taskID, change.Status, progress.ErrInvalidTransition)
		}
		return scriptResult(taskID, res)
	})
}

func scriptResult(taskID string, res int) error {
	switch res {
	case resultOK:
		return nil
	case resultNotFound:
		return fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
	case resultInvalidTransition:
		return fmt.Errorf("task %s: %w", taskID, progress.ErrInvalidTransition)
	case resultAlreadyExists:
		return fmt.Errorf("task %s: %w", taskID, progress.ErrAlreadyExists)
	default:
		return fmt.Errorf("task %s: unexpected script result %d", taskID, res)
	}
}

// Get loads the task and its stages in a single pipeline.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*progress.Task, error) {
	var task *progress.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "redis.get_task", attrs(taskID), func(ctx context.Context) error {
		var err error
		task, err = s.load(ctx, taskID)
		return err
	})
	return task, err
}

func (s *TaskStore) load(ctx context.Context, taskID string) (*progress.Task, error) {
	k := keysFor(taskID)

	pipe := s.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, k.task)
	stagesCmd := pipe.HGetAll(ctx, k.stages)
	dataCmd := pipe.HGetAll(ctx, k.stageData)
	orderCmd := pipe.LRange(ctx, k.stageOrder, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storage.Unavailable("get task", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
	}

	task, err := decodeTask(taskID, fields)
	if err != nil {
		return nil, err
	}

	stages, data := stagesCmd.Val(), dataCmd.Val()
	for _, name := range orderCmd.Val() {
		raw, ok := stages[name]
		if !ok {
			continue
		}
		rec, err := decodeStage(name, raw, data[name])
		if err != nil {
			return nil, err
		}
		task.Stages = append(task.Stages, rec)
	}
	return task, nil
}

func decodeTask(taskID string, fields map[string]string) (*progress.Task, error) {
	created, err := parseMicros(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("task %s created_at: %w", taskID, err)
	}
	updated, err := parseMicros(fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("task %s updated_at: %w", taskID, err)
	}

	task := progress.NewTask(taskID, fields["label"], created)
	task.Status = progress.TaskStatus(fields["status"])
	task.UpdatedAt = updated
	task.Error = fields["error"]

	if raw := fields["result"]; raw != "" {
		if task.Result, err = progress.JSONPayload([]byte(raw)); err != nil {
			return nil, fmt.Errorf("task %s result: %w", taskID, err)
		}
	}
	if raw := fields["input_expires_at"]; raw != "" {
		if task.InputExpiresAt, err = parseMicros(raw); err != nil {
			return nil, fmt.Errorf("task %s input_expires_at: %w", taskID, err)
		}
	}
	return task, nil
}

func decodeStage(name, raw, data string) (progress.StageRecord, error) {
	var doc stageDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return progress.StageRecord{}, fmt.Errorf("decode stage %s: %w", name, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, doc.Timestamp)
	if err != nil {
		return progress.StageRecord{}, fmt.Errorf("stage %s timestamp: %w", name, err)
	}

	rec := progress.StageRecord{
		Stage:     name,
		Status:    progress.StageStatus(doc.Status),
		Message:   doc.Message,
		Timestamp: ts,
	}
	if data != "" {
		if rec.Data, err = progress.JSONPayload([]byte(data)); err != nil {
			return progress.StageRecord{}, fmt.Errorf("stage %s data: %w", name, err)
		}
	}
	return rec, nil
}

func parseMicros(s string) (time.Time, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(us).UTC(), nil
}

// ListRecent reads the index newest first. Entries whose task keys have
// expired are removed from the index as they are found.
func (s *TaskStore) ListRecent(ctx context.Context, limit int) ([]*progress.Task, error) {
	var tasks []*progress.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "redis.list_recent", defaultAttributes, func(ctx context.Context) error {
		tasks = make([]*progress.Task, 0, limit)
		batch := int64(max(limit, 16))

		for start := int64(0); len(tasks) < limit; start += batch {
			ids, err := s.client.ZRevRange(ctx, indexKey, start, start+batch-1).Result()
			if err != nil {
				return storage.Unavailable("list recent", err)
			}
			if len(ids) == 0 {
				return nil
			}

			var stale []any
			for _, id := range ids {
				if len(tasks) == limit {
					break
				}
				task, err := s.load(ctx, id)
				if errors.Is(err, progress.ErrNotFound) {
					stale = append(stale, id)
					continue
				}
				if err != nil {
					return err
				}
				tasks = append(tasks, task)
			}

			if len(stale) > 0 {
				if err := s.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
					return storage.Unavailable("prune index", err)
				}
				// Removed members shift the remaining ranks down.
				start -= int64(len(stale))
			}
			if int64(len(ids)) < batch {
				return nil
			}
		}
		return nil
	})
	return tasks, err
}

// PutInput stores the submission with its own TTL and stamps the task with
// the moment it lapses.
func (s *TaskStore) PutInput(ctx context.Context, taskID string, data []byte) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.put_input", attrs(taskID), func(ctx context.Context) error {
		k := keysFor(taskID)
		expiresAt := s.clock.Now().Add(s.retention.InputTTL)
		res, err := putInputScript.Run(ctx, s.client, []string{k.task, k.input},
			data, expiresAt.UnixMicro(), s.ttlMillis(s.retention.InputTTL),
		).Int()
		if err != nil {
			return storage.Unavailable("put input", err)
		}
		if res == resultAlreadyExists {
			return fmt.Errorf("input for task %s: %w", taskID, progress.ErrAlreadyExists)
		}
		return scriptResult(taskID, res)
	})
}

// GetInput distinguishes an elapsed input window from a task that never had
// input by checking the expiry stamp on the task hash.
func (s *TaskStore) GetInput(ctx context.Context, taskID string) ([]byte, error) {
	var data []byte
	err := storage.ExecuteAndTrace(ctx, s.tracer, "redis.get_input", attrs(taskID), func(ctx context.Context) error {
		k := keysFor(taskID)

		pipe := s.client.Pipeline()
		inputCmd := pipe.Get(ctx, k.input)
		existsCmd := pipe.Exists(ctx, k.task)
		markerCmd := pipe.HGet(ctx, k.task, "input_expires_at")
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return storage.Unavailable("get input", err)
		}

		if existsCmd.Val() == 0 {
			return fmt.Errorf("task %s: %w", taskID, progress.ErrNotFound)
		}
		if b, err := inputCmd.Bytes(); err == nil {
			data = b
			return nil
		}
		if markerCmd.Val() != "" {
			return fmt.Errorf("input for task %s: %w", taskID, progress.ErrExpired)
		}
		return fmt.Errorf("input for task %s: %w", taskID, progress.ErrNotFound)
	})
	return data, err
}

// Delete drops every key of the task and its index entry.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.delete_task", attrs(taskID), func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, keysFor(taskID).all()...)
		pipe.ZRem(ctx, indexKey, taskID)
		if _, err := pipe.Exec(ctx); err != nil {
			return storage.Unavailable("delete task", err)
		}
		return nil
	})
}

// Ping checks connectivity.
func (s *TaskStore) Ping(ctx context.Context) error {
	return storage.Unavailable("ping", s.client.Ping(ctx).Err())
}
