package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ahrav/curation-progress/internal/api/routes/tasks"
	"github.com/ahrav/curation-progress/internal/domain/progress"
)

// updatesPath is the live channel served by the progress server.
const updatesPath = "/ws/task-updates"

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to the progress server's HTTP and WebSocket APIs.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// UnmarshalJSON reads the {"code","message"} error body.
func (e *APIError) UnmarshalJSON(b []byte) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return err
	}
	e.Code, e.Message = body.Code, body.Message
	return nil
}

// List returns up to limit recent tasks. Zero uses the server default.
func (c *Client) List(ctx context.Context, limit int) (tasks.List, error) {
	path := "/tasks"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out tasks.List
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Get returns one task.
func (c *Client) Get(ctx context.Context, taskID string) (tasks.Task, error) {
	var out tasks.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &out)
	return out, err
}

// Submit uploads files for curation.
func (c *Client) Submit(ctx context.Context, files []tasks.File) (tasks.SubmitResponse, error) {
	var out tasks.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/tasks", tasks.SubmitRequest{Files: files}, &out)
	return out, err
}

// Retry re-queues a task from its cached input.
func (c *Client) Retry(ctx context.Context, taskID string) (tasks.RetryResponse, error) {
	var out tasks.RetryResponse
	err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/retry", nil, &out)
	return out, err
}

// Delete removes a task.
func (c *Client) Delete(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, nil)
}

// Watch streams live updates to fn until ctx ends, the server closes the
// connection, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(progress.Update) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + updatesPath

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var u progress.Update
		if err := json.Unmarshal(msg, &u); err != nil {
			return fmt.Errorf("decode update: %w", err)
		}
		if err := fn(u); err != nil {
			if errors.Is(err, errStopWatching) {
				return nil
			}
			return err
		}
	}
}

// errStopWatching ends Watch without an error.
var errStopWatching = errors.New("stop watching")
