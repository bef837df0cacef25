package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Options{
		BaseURL:    srv.URL + "/",
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Options{BaseURL: "  "})
	require.Error(t, err)
}

func TestCreateTasksPostsPayload(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/create_tasks/", r.URL.Path)
		var body createTasksRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Tasks, 1)
		require.Equal(t, "load-git", body.Tasks[0].Type)
		require.Equal(t, "https://github.com/acme/widgets", body.Tasks[0].Arguments.Kwargs["url"])
		_ = json.NewEncoder(w).Encode([]savecode.Task{{
			ID:        11,
			Type:      "load-git",
			Status:    savecode.SchedulerNextRunNotScheduled,
			Policy:    "oneshot",
			Arguments: body.Tasks[0].Arguments,
		}})
	}, 0)

	tasks, err := client.CreateTasks(context.Background(), []savecode.NewTask{{
		Type:      "load-git",
		Policy:    "oneshot",
		Arguments: savecode.TaskArguments{Kwargs: map[string]any{"url": "https://github.com/acme/widgets"}},
	}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, int64(11), tasks[0].ID)
}

func TestCreateTasksCountMismatch(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}, 0)

	_, err := client.CreateTasks(context.Background(), []savecode.NewTask{{Type: "load-git"}})
	require.ErrorIs(t, err, savecode.ErrSchedulerUnavailable)
}

func TestEmptyBatchesSkipTheNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) { calls.Add(1) }, 0)

	tasks, err := client.GetTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, tasks)
	runs, err := client.GetTaskRuns(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, runs)
	created, err := client.CreateTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, created)
	require.Zero(t, calls.Load())
}

func TestGetTaskRunsKeepsLatest(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/get_task_runs/", r.URL.Path)
		var body taskIDsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []int64{1, 2}, body.TaskIDs)
		_, _ = w.Write([]byte(`[
			{"id": 10, "task": 1, "status": "failed"},
			{"id": 12, "task": 1, "status": "eventful"},
			{"id": 11, "task": 2, "status": "started"}
		]`))
	}, 0)

	runs, err := client.GetTaskRuns(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, []savecode.TaskRun{
		{ID: 12, TaskID: 1, Status: savecode.RunEventful},
		{ID: 11, TaskID: 2, Status: savecode.RunStarted},
	}, runs)
}

func TestRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "/get_task_types/", r.URL.Path)
		_, _ = w.Write([]byte(`[{"type": "load-git", "description": "Load git"}, {"type": "index-content"}]`))
	}, 2)

	types, err := client.GetTaskTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 2)
	require.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}, 1)

	_, err := client.GetTasks(context.Background(), []int64{1})
	require.ErrorIs(t, err, savecode.ErrSchedulerUnavailable)
	require.ErrorContains(t, err, "status=502")
	require.Equal(t, int32(2), calls.Load())
}

func TestCreateTasksIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "timeout", http.StatusGatewayTimeout)
	}, 3)

	_, err := client.CreateTasks(context.Background(), []savecode.NewTask{{Type: "load-git"}})
	require.ErrorIs(t, err, savecode.ErrSchedulerUnavailable)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad ids", http.StatusBadRequest)
	}, 3)

	_, err := client.GetTasks(context.Background(), []int64{1})
	require.ErrorIs(t, err, savecode.ErrSchedulerUnavailable)
	require.Equal(t, int32(1), calls.Load())
}

func TestDecodeErrorWrapsUnavailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}, 0)

	_, err := client.GetTasks(context.Background(), []int64{1})
	require.ErrorIs(t, err, savecode.ErrSchedulerUnavailable)
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	c := &Client{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}
	require.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	require.Equal(t, 400*time.Millisecond, c.retryDelay(3, ""))
	require.Equal(t, time.Second, c.retryDelay(10, ""))
	require.Equal(t, time.Second, c.retryDelay(1, "30"))
	require.Equal(t, 100*time.Millisecond, c.retryDelay(1, "soon"))
}
