// Package tasks binds the task history, submission, retry and delete
// endpoints.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ahrav/curation-progress/internal/api"
	"github.com/ahrav/curation-progress/internal/api/errs"
	appprogress "github.com/ahrav/curation-progress/internal/app/progress"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"
	"github.com/ahrav/curation-progress/pkg/web"
)

// maxSubmitBytes bounds a submission body; file data is base64 encoded.
const maxSubmitBytes = 64 << 20

// Config contains the dependencies needed by the task handlers.
type Config struct {
	Log       *logger.Logger
	Metrics   api.APIMetrics
	Manager   *appprogress.Manager
	Submitter *appprogress.Submitter
	Retry     *appprogress.RetryCoordinator
	Clock     timeutil.Provider
}

// Routes binds all the task endpoints.
func Routes(app *web.App, cfg Config) {
	app.HandlerFunc(http.MethodGet, "", "/tasks", list(cfg))
	app.HandlerFunc(http.MethodPost, "", "/tasks", submit(cfg))
	app.HandlerFunc(http.MethodGet, "", "/tasks/{id}", get(cfg))
	app.HandlerFunc(http.MethodDelete, "", "/tasks/{id}", remove(cfg))
	app.HandlerFunc(http.MethodPost, "", "/tasks/{id}/retry", retry(cfg))
}

func list(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return errs.Newf(errs.InvalidArgument, "limit must be a non-negative integer")
			}
			limit = n
		}

		found, err := cfg.Manager.ListRecent(ctx, limit)
		if err != nil {
			return errs.FromDomain(err)
		}

		now := cfg.Clock.Now()
		resp := List{Tasks: make([]Task, 0, len(found)), Count: len(found)}
		for _, t := range found {
			resp.Tasks = append(resp.Tasks, ToTask(t, now))
		}
		return resp
	}
}

func get(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		task, err := cfg.Manager.GetTask(ctx, web.Param(r, "id"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return ToTask(task, cfg.Clock.Now())
	}
}

func submit(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		if w := web.GetWriter(ctx); w != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)
		}

		var req SubmitRequest
		if err := web.Decode(r, &req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}
		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		uploads := make([]appprogress.Upload, 0, len(req.Files))
		for _, f := range req.Files {
			uploads = append(uploads, appprogress.Upload{Label: f.Label, Data: f.FileData})
		}

		subs, err := cfg.Submitter.Submit(ctx, uploads)
		cfg.Metrics.IncTasksSubmitted(ctx, len(subs))
		if err != nil {
			return errs.FromDomain(err)
		}

		resp := SubmitResponse{Status: "queued", TotalFiles: len(subs), Tasks: make([]QueuedTask, 0, len(subs))}
		for _, s := range subs {
			resp.Tasks = append(resp.Tasks, QueuedTask{Label: s.Label, TaskID: s.TaskID})
		}
		return resp
	}
}

func remove(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		if err := cfg.Manager.DeleteTask(ctx, web.Param(r, "id")); err != nil {
			return errs.FromDomain(err)
		}
		return web.NoContent{}
	}
}

func retry(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		res, err := cfg.Retry.Retry(ctx, web.Param(r, "id"))
		if err != nil {
			cfg.Metrics.IncRetryRequests(ctx, retryOutcome(err))
			if errors.Is(err, progress.ErrExpired) {
				return errs.New(errs.Gone, fmt.Errorf("input expired, please re-upload the file: %w", err))
			}
			return errs.FromDomain(err)
		}

		cfg.Metrics.IncRetryRequests(ctx, "queued")
		return RetryResponse{
			Status:         "queued",
			OriginalTaskID: res.OriginalTaskID,
			NewTaskID:      res.NewTaskID,
			Label:          res.Label,
		}
	}
}

func retryOutcome(err error) string {
	switch {
	case errors.Is(err, progress.ErrNotFound):
		return "not_found"
	case errors.Is(err, progress.ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
