package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestIDAndLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	var seen string
	handler := RequestID(Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, http.StatusTeapot, entries[0].ContextMap()["status"])
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	handler := Recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestPrivilegeAndRequireAPIKey(t *testing.T) {
	t.Parallel()

	var privileged bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		privileged = IsPrivileged(r)
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Privilege("secret")(RequireAPIKey("secret")(inner))

	tests := []struct {
		name       string
		setup      func(*http.Request)
		wantStatus int
		wantPriv   bool
	}{
		{name: "header", setup: func(r *http.Request) { r.Header.Set(APIKeyHeader, "secret") }, wantStatus: http.StatusNoContent, wantPriv: true},
		{name: "query", setup: func(r *http.Request) { r.URL.RawQuery = "api_key=secret" }, wantStatus: http.StatusNoContent, wantPriv: true},
		{name: "wrong key", setup: func(r *http.Request) { r.Header.Set(APIKeyHeader, "nope") }, wantStatus: http.StatusForbidden},
		{name: "missing", setup: func(*http.Request) {}, wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		privileged = false
		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		tt.setup(req)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, tt.wantStatus, rec.Code, tt.name)
		require.Equal(t, tt.wantPriv, privileged, tt.name)
	}
}

func TestEmptyKeyLeavesRoutesOpen(t *testing.T) {
	t.Parallel()

	var privileged bool
	handler := Privilege("")(RequireAPIKey("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		privileged = IsPrivileged(r)
	})))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, privileged)
}
