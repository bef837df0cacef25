package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

var requestColumnNames = []string{
	"id", "request_date", "visit_type", "origin_url", "status", "loading_task_id",
	"loading_task_status", "visit_status", "visit_date", "from_webhook", "webhook_origin", "user_id", "note",
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *RequestStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return mock, store
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestCreateRequestReturnsID(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	taskID := int64(12)
	req := savecode.SaveRequest{
		RequestDate:       now,
		VisitType:         "git",
		OriginURL:         "https://github.com/acme/widgets",
		Status:            savecode.RequestAccepted,
		LoadingTaskID:     &taskID,
		LoadingTaskStatus: savecode.TaskNotYetScheduled,
		FromWebhook:       true,
		WebhookOrigin:     "generic",
	}

	mock.ExpectQuery("INSERT INTO save_origin_request").
		WithArgs(
			now,
			"git",
			"https://github.com/acme/widgets",
			"accepted",
			&taskID,
			"not yet scheduled",
			(*string)(nil),
			(*time.Time)(nil),
			true,
			"generic",
			"",
			"",
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	created, err := store.CreateRequest(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int64(7), created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequestScansRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	requested := time.Unix(1700000000, 0).UTC()
	visited := requested.Add(time.Hour)
	taskID := int64(12)
	visitStatus := "full"

	mock.ExpectQuery("SELECT (.+) FROM save_origin_request WHERE id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(requestColumnNames).AddRow(
			int64(7), requested, "git", "https://github.com/acme/widgets", "accepted", &taskID,
			"succeeded", &visitStatus, &visited, false, "", "alice", "",
		))

	got, err := store.GetRequest(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, savecode.RequestAccepted, got.Status)
	require.Equal(t, savecode.TaskSucceeded, got.LoadingTaskStatus)
	require.NotNil(t, got.VisitStatus)
	require.Equal(t, savecode.VisitFull, *got.VisitStatus)
	require.Equal(t, visited, *got.VisitDate)
	require.Equal(t, int64(12), *got.LoadingTaskID)
	require.Equal(t, "alice", got.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequestNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM save_origin_request").
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRequest(context.Background(), 404)
	require.ErrorIs(t, err, savecode.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRequestIsConditional(t *testing.T) {
	t.Parallel()

	prev := savecode.SaveRequest{ID: 3, Status: savecode.RequestAccepted, LoadingTaskStatus: savecode.TaskRunning}
	next := prev
	next.LoadingTaskStatus = savecode.TaskFailed

	tests := []struct {
		name     string
		affected int64
		exists   bool
		want     error
	}{
		{name: "applied", affected: 1},
		{name: "missing row", exists: false, want: savecode.ErrNotFound},
		{name: "moved on", exists: true, want: savecode.ErrStaleRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, store := newMockStore(t)
			mock.ExpectExec(`WHERE id = \$7 AND status = \$8`).
				WithArgs("accepted", (*int64)(nil), "failed", (*string)(nil), (*time.Time)(nil), "",
					int64(3), "accepted", "running", (*string)(nil)).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs(int64(3)).
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			err := store.UpdateRequest(context.Background(), prev, next)
			if tt.want == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.want)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeleteRequest(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("DELETE FROM save_origin_request").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.DeleteRequest(context.Background(), 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRequestsAppliesFilterAndPage(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	requested := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM save_origin_request WHERE status = \\$1 AND visit_type = \\$2 " +
		"ORDER BY request_date DESC, id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("accepted", "git", 10, 20).
		WillReturnRows(pgxmock.NewRows(requestColumnNames).
			AddRow(int64(2), requested.Add(time.Minute), "git", "https://a.example/r", "accepted", (*int64)(nil),
				"not yet scheduled", nil, nil, false, "", "", "").
			AddRow(int64(1), requested, "git", "https://b.example/r", "accepted", (*int64)(nil),
				"running", nil, nil, true, "generic", "", ""))

	list, err := store.ListRequests(context.Background(),
		savecode.ListFilter{Status: savecode.RequestAccepted, VisitType: "git"},
		savecode.Page{Limit: 10, Offset: 20},
	)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int64(2), list[0].ID)
	require.Nil(t, list[0].VisitStatus)
	require.True(t, list[1].FromWebhook)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRequestsQueryError(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM save_origin_request").WillReturnError(errors.New("boom"))

	_, err := store.ListRequests(context.Background(), savecode.ListFilter{}, savecode.Page{})
	require.ErrorContains(t, err, "list save requests")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRequests(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT status, loading_task_status, visit_type, count").
		WillReturnRows(pgxmock.NewRows([]string{"status", "loading_task_status", "visit_type", "count"}).
			AddRow("accepted", "succeeded", "git", int64(3)).
			AddRow("rejected", "not created", "git", int64(1)))

	counts, err := store.CountRequests(context.Background())
	require.NoError(t, err)
	require.Equal(t, []savecode.Count{
		{Status: savecode.RequestAccepted, LoadingTaskStatus: savecode.TaskSucceeded, VisitType: "git", Total: 3},
		{Status: savecode.RequestRejected, LoadingTaskStatus: savecode.TaskNotCreated, VisitType: "git", Total: 1},
	}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOriginLists(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO save_authorized_origin").
		WithArgs("https://github.com/").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT url FROM save_authorized_origin").
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("https://github.com/"))
	mock.ExpectExec("DELETE FROM save_unauthorized_origin").
		WithArgs("https://evil.example/").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.AddOrigin(ctx, savecode.AuthorizedOrigins, " https://github.com/ "))
	origins, err := store.ListOrigins(ctx, savecode.AuthorizedOrigins)
	require.NoError(t, err)
	require.Equal(t, []string{"https://github.com/"}, origins)
	require.ErrorIs(t, store.RemoveOrigin(ctx, savecode.UnauthorizedOrigins, "https://evil.example/"), savecode.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = store.ListOrigins(ctx, savecode.OriginListKind("bogus"))
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
