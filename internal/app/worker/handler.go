package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/pkg/common/logger"
)

// Handler runs one job, reporting stages as it goes, and returns the result
// document on success.
type Handler interface {
	Handle(ctx context.Context, job progress.Job, rep *TaskReporter) (progress.Payload, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job progress.Job, rep *TaskReporter) (progress.Payload, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job progress.Job, rep *TaskReporter) (progress.Payload, error) {
	return f(ctx, job, rep)
}

// Stage names reported by CuratorHandler.
const (
	StageUpload   = "upload"
	StageCurating = "curating"
)

const curatePath = "/single_article_curate"

// CuratorHandler sends the job input to the remote curation service.
type CuratorHandler struct {
	endpoint string
	client   *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCuratorHandler creates a handler posting to baseURL. A zero timeout
// falls back to ten minutes; curation of a long article is slow.
func NewCuratorHandler(baseURL string, timeout time.Duration, logger *logger.Logger, tracer trace.Tracer) *CuratorHandler {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CuratorHandler{
		endpoint: strings.TrimRight(baseURL, "/") + curatePath,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("component", "curator_handler"),
		tracer: tracer,
	}
}

type curateRequest struct {
	Filename string `json:"filename"`
	// FileData is sent as an array of byte values.
	FileData []int `json:"file_data"`
}

type curateResponse struct {
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	Error          string          `json:"error"`
	CellLinesFound int             `json:"cell_lines_found"`
	CuratedData    json.RawMessage `json:"curated_data"`
}

// Handle uploads the job input and waits for the curated result.
func (h *CuratorHandler) Handle(ctx context.Context, job progress.Job, rep *TaskReporter) (progress.Payload, error) {
	ctx, span := h.tracer.Start(ctx, "curator_handler.handle",
		trace.WithAttributes(
			attribute.String("task_id", job.TaskID),
			attribute.Int("input_size", len(job.Input)),
		))
	defer span.End()

	uploaded, _ := progress.PayloadOf(map[string]any{"bytes": len(job.Input)})
	_ = rep.Stage(ctx, StageUpload, progress.StageStatusCompleted, "Input received", uploaded)
	_ = rep.Stage(ctx, StageCurating, progress.StageStatusProcessing, "Sending article to curation service", progress.NoPayload())

	raw, resp, err := h.post(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "curation request failed")
		_ = rep.Stage(ctx, StageCurating, progress.StageStatusFailed, err.Error(), progress.NoPayload())
		return progress.NoPayload(), err
	}

	if resp.Status == "error" {
		err := fmt.Errorf("curation failed: %s", firstNonEmpty(resp.Error, resp.Message))
		span.SetStatus(codes.Error, err.Error())
		_ = rep.Stage(ctx, StageCurating, progress.StageStatusFailed, err.Error(), progress.NoPayload())
		return progress.NoPayload(), err
	}

	summary, _ := progress.PayloadOf(map[string]any{"cell_lines_found": resp.CellLinesFound})
	_ = rep.Stage(ctx, StageCurating, progress.StageStatusCompleted, firstNonEmpty(resp.Message, "Curation completed"), summary)

	result, err := progress.JSONPayload(raw)
	if err != nil {
		return progress.NoPayload(), fmt.Errorf("curation service returned an invalid document: %w", err)
	}
	return result, nil
}

func (h *CuratorHandler) post(ctx context.Context, job progress.Job) ([]byte, curateResponse, error) {
	var out curateResponse

	fileData := make([]int, len(job.Input))
	for i, b := range job.Input {
		fileData[i] = int(b)
	}
	body, err := json.Marshal(curateRequest{Filename: job.Label, FileData: fileData})
	if err != nil {
		return nil, out, fmt.Errorf("encode curation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, out, fmt.Errorf("build curation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, out, fmt.Errorf("curation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, out, fmt.Errorf("read curation response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, out, fmt.Errorf("curation service returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, out, fmt.Errorf("decode curation response: %w", err)
	}
	return raw, out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
