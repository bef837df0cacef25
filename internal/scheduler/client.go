// Package scheduler implements the JSON RPC client for the task scheduler
// that runs loading tasks.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Options configures the HTTP client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *zap.Logger
}

// Client talks to the scheduler RPC API over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("scheduler url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     logger,
		tracer:     otel.Tracer("github.com/JakeFAU/savecodenow/internal/scheduler"),
	}, nil
}

type taskIDsRequest struct {
	TaskIDs []int64 `json:"task_ids"`
}

type createTasksRequest struct {
	Tasks []savecode.NewTask `json:"tasks"`
}

// GetTaskTypes lists the task types the scheduler knows.
func (c *Client) GetTaskTypes(ctx context.Context) ([]savecode.TaskType, error) {
	var out []savecode.TaskType
	if err := c.call(ctx, "get_task_types", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTasks registers new tasks and returns them with their ids.
func (c *Client) CreateTasks(ctx context.Context, tasks []savecode.NewTask) ([]savecode.Task, error) {
	if len(tasks) == 0 {
		return []savecode.Task{}, nil
	}
	var out []savecode.Task
	if err := c.call(ctx, "create_tasks", createTasksRequest{Tasks: tasks}, &out); err != nil {
		return nil, err
	}
	if len(out) != len(tasks) {
		return nil, fmt.Errorf("create_tasks returned %d tasks for %d requested: %w",
			len(out), len(tasks), savecode.ErrSchedulerUnavailable)
	}
	return out, nil
}

// GetTasks fetches tasks by id. Unknown ids are absent from the result.
func (c *Client) GetTasks(ctx context.Context, ids []int64) ([]savecode.Task, error) {
	if len(ids) == 0 {
		return []savecode.Task{}, nil
	}
	var out []savecode.Task
	if err := c.call(ctx, "get_tasks", taskIDsRequest{TaskIDs: ids}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTaskRuns returns the latest run of each task that has one.
func (c *Client) GetTaskRuns(ctx context.Context, taskIDs []int64) ([]savecode.TaskRun, error) {
	if len(taskIDs) == 0 {
		return []savecode.TaskRun{}, nil
	}
	var runs []savecode.TaskRun
	if err := c.call(ctx, "get_task_runs", taskIDsRequest{TaskIDs: taskIDs}, &runs); err != nil {
		return nil, err
	}
	return LatestRuns(runs), nil
}

// LatestRuns keeps the highest-id run per task, ordered by task id.
func LatestRuns(runs []savecode.TaskRun) []savecode.TaskRun {
	latest := make(map[int64]savecode.TaskRun, len(runs))
	order := make([]int64, 0, len(runs))
	for _, run := range runs {
		prev, ok := latest[run.TaskID]
		if !ok {
			order = append(order, run.TaskID)
		}
		if !ok || run.ID > prev.ID {
			latest[run.TaskID] = run
		}
	}
	out := make([]savecode.TaskRun, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	ctx, span := c.tracer.Start(ctx, "scheduler."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)
	defer span.End()

	err := c.do(ctx, method, payload, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// readMethods are safe to repeat. A retried create_tasks could register a
// second loading task.
var readMethods = map[string]bool{
	"get_task_types": true,
	"get_tasks":      true,
	"get_task_runs":  true,
}

func (c *Client) do(ctx context.Context, method string, payload, out any) error {
	maxRetries := 0
	if readMethods[method] {
		maxRetries = c.maxRetries
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	url := c.baseURL + "/" + method + "/"

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < maxRetries && ctx.Err() == nil {
				c.logger.Warn("scheduler call failed, retrying",
					zap.String("method", method), zap.Int("attempt", attempt+1), zap.Error(err))
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("scheduler %s: %v: %w", method, err, savecode.ErrSchedulerUnavailable)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read %s response: %v: %w", method, readErr, savecode.ErrSchedulerUnavailable)
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s response: %v: %w", method, err, savecode.ErrSchedulerUnavailable)
			}
			return nil
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < maxRetries {
			c.logger.Warn("scheduler returned retryable status",
				zap.String("method", method), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1))
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return fmt.Errorf("scheduler %s: status=%d message=%s: %w",
			method, resp.StatusCode, strings.TrimSpace(string(respBody)), savecode.ErrSchedulerUnavailable)
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
