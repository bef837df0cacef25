package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func TestLatestVisitPicksNewestMatching(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/1/origin/https://github.com/acme/widgets/visits/", r.URL.Path)
		require.Equal(t, "20", r.URL.Query().Get("per_page"))
		require.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"origin": "https://github.com/acme/widgets", "visit": 4, "date": "2024-03-02T00:00:00Z", "type": "hg", "status": "full"},
			{"origin": "https://github.com/acme/widgets", "visit": 3, "date": "2024-03-01T13:00:00Z", "type": "git", "status": "partial"},
			{"origin": "https://github.com/acme/widgets", "visit": 2, "date": "2024-03-01T12:30:00Z", "type": "git", "status": "full"},
			{"origin": "https://github.com/acme/widgets", "visit": 1, "date": "2024-02-01T00:00:00Z", "type": "git", "status": "full"}
		]`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL, Token: "s3cret"})
	require.NoError(t, err)

	after := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	visit, err := client.LatestVisit(context.Background(), "https://github.com/acme/widgets", "git", after)
	require.NoError(t, err)
	require.NotNil(t, visit)
	require.Equal(t, int64(3), visit.Visit)
	require.Equal(t, savecode.VisitPartial, visit.Status)
}

func TestLatestVisitNone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/api/1/origin/https://unknown.example/repo/visits/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"visit": 1, "date": "2020-01-01T00:00:00Z", "type": "git", "status": "full"}]`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	visit, err := client.LatestVisit(context.Background(), "https://unknown.example/repo", "git", after)
	require.NoError(t, err)
	require.Nil(t, visit)

	visit, err = client.LatestVisit(context.Background(), "https://old.example/repo", "git", after)
	require.NoError(t, err)
	require.Nil(t, visit, "visits before the request date are ignored")
}

func TestLatestVisitServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "storage down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = client.LatestVisit(context.Background(), "https://github.com/acme/widgets", "git", time.Time{})
	require.ErrorContains(t, err, "status=503")
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
}
