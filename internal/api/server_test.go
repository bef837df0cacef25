package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/clock/system"
	"github.com/JakeFAU/savecodenow/internal/manager"
	"github.com/JakeFAU/savecodenow/internal/middleware"
	"github.com/JakeFAU/savecodenow/internal/policy/ratelimit"
	"github.com/JakeFAU/savecodenow/internal/savecode"
	schedmem "github.com/JakeFAU/savecodenow/internal/scheduler/memory"
	"github.com/JakeFAU/savecodenow/internal/storage/memory"
	"github.com/JakeFAU/savecodenow/internal/webhook"
)

const (
	testAPIKey = "admin-secret"
	repoURL    = "https://github.com/acme/widgets"
)

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/healthz", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/readyz", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ready")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadinessFailsWhenStorePingFails(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{Service: pingFailService{}, Logger: zap.NewNop()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVisitTypes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/api/1/origin/save/visit-types/", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var types []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &types))
	require.Equal(t, []string{"git", "hg"}, types)
}

func TestCreateAndFetchSaveRequest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/admin/origin/save/authorized", []byte(`{"url":"https://github.com/"}`), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/1/origin/save/git/url/"+repoURL+"/", nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeRequest(t, rec)
	require.Equal(t, savecode.RequestAccepted, created.Status)
	require.Equal(t, savecode.TaskNotYetScheduled, created.LoadingTaskStatus)
	require.Equal(t, repoURL, created.OriginURL)

	env.scheduler.SetTaskStatus(*created.LoadingTaskID, savecode.SchedulerNextRunScheduled)
	rec = env.do(http.MethodGet, fmt.Sprintf("/api/1/origin/save/%d/", created.ID), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decodeRequest(t, rec)
	require.Equal(t, savecode.TaskScheduled, fetched.LoadingTaskStatus, "lookup refreshes first")

	rec = env.do(http.MethodGet, "/api/1/origin/save/git/url/"+repoURL, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []savecode.SaveRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = env.do(http.MethodGet, "/api/1/origin/save/url/"+repoURL, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/1/origin/save/hg/url/"+repoURL, nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateErrorMapping(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/admin/origin/save/unauthorized?url=https://evil.example.org/", nil, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "forbidden origin", path: "/api/1/origin/save/git/url/https://evil.example.org/repo", want: http.StatusForbidden},
		{name: "bad scheme", path: "/api/1/origin/save/git/url/ftp://example.org/repo", want: http.StatusBadRequest},
		{name: "unknown visit type", path: "/api/1/origin/save/cvs/url/" + repoURL, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := env.do(http.MethodPost, tt.path, nil, false)
		require.Equal(t, tt.want, rec.Code, tt.name)
	}

	rec = env.do(http.MethodPost, "/api/1/origin/save/git/url/https://evil.example.org/repo", nil, false)
	var forbidden forbiddenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forbidden))
	require.Equal(t, savecode.RequestRejected, forbidden.Request.Status)
}

func TestSchedulerFailureMapsToBadGateway(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.scheduler.FailWith(fmt.Errorf("dial: %w", savecode.ErrSchedulerUnavailable))
	rec := env.do(http.MethodPost, "/api/1/origin/save/git/url/"+repoURL, nil, true)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetUnknownRequest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/api/1/origin/save/999/", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	for _, u := range []string{repoURL, "https://gitlab.com/acme/tools", "https://github.com/acme/other"} {
		rec := env.do(http.MethodPost, "/api/1/origin/save/git/url/"+u, nil, false)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(http.MethodGet, "/api/1/origin/save/requests/?status=pending&q=github&limit=10", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Requests []savecode.SaveRequest `json:"requests"`
		Limit    int                    `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Requests, 2)
	require.Equal(t, 10, body.Limit)
	require.Greater(t, body.Requests[0].ID, body.Requests[1].ID, "newest first")

	for _, query := range []string{"limit=abc", "offset=-1", "status=weird"} {
		rec := env.do(http.MethodGet, "/api/1/origin/save/requests/?"+query, nil, false)
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestModeration(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/api/1/origin/save/git/url/"+repoURL, nil, false)
	pending := decodeRequest(t, rec)
	require.Equal(t, savecode.RequestPending, pending.Status)

	acceptPath := fmt.Sprintf("/admin/origin/save/requests/%d/accept", pending.ID)
	rec = env.do(http.MethodPost, acceptPath, nil, false)
	require.Equal(t, http.StatusForbidden, rec.Code, "admin routes need the api key")

	rec = env.do(http.MethodPost, acceptPath, []byte(`{"note":"looks fine"}`), true)
	require.Equal(t, http.StatusOK, rec.Code)
	accepted := decodeRequest(t, rec)
	require.Equal(t, savecode.RequestAccepted, accepted.Status)
	require.Equal(t, "looks fine", accepted.Note)

	rec = env.do(http.MethodPost, fmt.Sprintf("/admin/origin/save/requests/%d/reject", pending.ID), nil, true)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, acceptPath, []byte(`{bad`), true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodDelete, fmt.Sprintf("/admin/origin/save/requests/%d", pending.ID), nil, true)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodGet, fmt.Sprintf("/api/1/origin/save/%d/", pending.ID), nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOriginListAdmin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/admin/origin/save/authorized", []byte(`{"url":"https://github.com/"}`), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodGet, "/admin/origin/save/authorized", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://github.com/")

	rec = env.do(http.MethodDelete, "/admin/origin/save/authorized?url=https://github.com/", nil, true)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/admin/origin/save/authorized", nil, true)
	require.NotContains(t, rec.Body.String(), "https://github.com/")

	rec = env.do(http.MethodPost, "/admin/origin/save/unauthorized", nil, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRefresh(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/api/1/origin/save/git/url/"+repoURL, nil, true)
	created := decodeRequest(t, rec)
	env.scheduler.SetTaskStatus(*created.LoadingTaskID, savecode.SchedulerNextRunScheduled)

	rec = env.do(http.MethodPost, "/admin/origin/save/refresh", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"refreshed":1}`, rec.Body.String())
}

func TestWebhookRoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	body := []byte(`{"visit_type":"git","origin_url":"` + repoURL + `"}`)

	rec := env.do(http.MethodPost, "/api/1/origin/save/webhook/generic/", body, false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"status":"created"`)

	rec = env.do(http.MethodPost, "/api/1/origin/save/webhook/generic/", body, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"cooldown"`)

	ignored := []byte(`{"visit_type":"git","origin_url":"` + repoURL + `","event":"issue"}`)
	rec = env.do(http.MethodPost, "/api/1/origin/save/webhook/generic/", ignored, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ignored"`)

	rec = env.do(http.MethodPost, "/api/1/origin/save/webhook/gitea/", body, false)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/1/origin/save/webhook/generic/", []byte(`{"origin_url":1}`), false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhooksDisabled(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{Service: pingFailService{}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/1/origin/save/webhook/generic/", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmissionThrottling(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 0.001, DefaultBurst: 1})
	env := newTestEnv(t, limiter)

	rec := env.do(http.MethodPost, "/api/1/origin/save/git/url/"+repoURL, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/1/origin/save/git/url/"+repoURL, nil, false)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = env.do(http.MethodPost, "/api/1/origin/save/git/url/"+repoURL, nil, true)
	require.Equal(t, http.StatusOK, rec.Code, "privileged callers are not throttled")

	rec = env.do(http.MethodGet, "/api/1/origin/save/git/url/"+repoURL, nil, false)
	require.Equal(t, http.StatusOK, rec.Code, "listing is not throttled")
}

func TestEventsRouteMounted(t *testing.T) {
	t.Parallel()

	events := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	srv := NewServer(Options{Service: pingFailService{}, Events: events})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/1/origin/save/events", nil))
	require.Equal(t, http.StatusSwitchingProtocols, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: savecode.ErrInvalidOriginURL, want: http.StatusBadRequest},
		{err: fmt.Errorf("wrap: %w", savecode.ErrVisitTypeNotSavable), want: http.StatusBadRequest},
		{err: webhook.ErrInvalidPayload, want: http.StatusBadRequest},
		{err: webhook.ErrBadSignature, want: http.StatusUnauthorized},
		{err: savecode.ErrForbiddenOrigin, want: http.StatusForbidden},
		{err: savecode.ErrNotFound, want: http.StatusNotFound},
		{err: webhook.ErrUnknownAdapter, want: http.StatusNotFound},
		{err: savecode.ErrInvalidTransition, want: http.StatusConflict},
		{err: savecode.ErrSchedulerUnavailable, want: http.StatusBadGateway},
		{err: context.DeadlineExceeded, want: http.StatusRequestTimeout},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

type testEnv struct {
	server    *Server
	scheduler *schedmem.Scheduler
	store     *memory.RequestStore
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()

	store := memory.NewRequestStore()
	scheduler := schedmem.New("git", "hg")
	clock := system.New()
	mgr, err := manager.New(manager.Options{
		Store:       store,
		Scheduler:   scheduler,
		Clock:       clock,
		Logger:      zap.NewNop(),
		VisitTypes:  []string{"git", "hg"},
		GraceWindow: savecode.DefaultGraceWindow,
	})
	require.NoError(t, err)

	adapter, err := webhook.NewGenericAdapter()
	require.NoError(t, err)
	ingestor, err := webhook.NewIngestor(webhook.Options{
		Creator:  mgr,
		Lister:   store,
		Clock:    clock,
		Adapters: []webhook.Adapter{adapter},
		Cooldown: webhook.DefaultCooldown,
	})
	require.NoError(t, err)

	srv := NewServer(Options{
		Service:  mgr,
		Webhooks: ingestor,
		Limiter:  limiter,
		APIKey:   testAPIKey,
		Logger:   zap.NewNop(),
	})
	return &testEnv{server: srv, scheduler: scheduler, store: store}
}

func (e *testEnv) do(method, path string, body []byte, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if admin {
		req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeRequest(t *testing.T, rec *httptest.ResponseRecorder) savecode.SaveRequest {
	t.Helper()
	var req savecode.SaveRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req), rec.Body.String())
	return req
}

// pingFailService satisfies Service with a store that is never ready.
type pingFailService struct{ Service }

func (pingFailService) Ping(context.Context) error { return errors.New("db down") }
