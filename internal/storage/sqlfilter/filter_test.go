package sqlfilter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func TestWhereEmpty(t *testing.T) {
	t.Parallel()

	clause, args := Where(Postgres, savecode.ListFilter{}, 0)
	require.Empty(t, clause)
	require.Nil(t, args)
}

func TestWhereAllFields(t *testing.T) {
	t.Parallel()

	webhook := true
	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clause, args := Where(Postgres, savecode.ListFilter{
		Status:              savecode.RequestAccepted,
		LoadingTaskStatuses: []savecode.TaskStatus{savecode.TaskScheduled, savecode.TaskRunning},
		VisitType:           "git",
		OriginURL:           "https://github.com/acme/widgets",
		Query:               "50%_off",
		FromWebhook:         &webhook,
		Since:               &since,
	}, 0)

	require.Equal(t,
		" WHERE status = $1 AND loading_task_status IN ($2, $3) AND visit_type = $4"+
			" AND origin_url = $5 AND origin_url ILIKE $6 ESCAPE '\\' AND from_webhook = $7 AND request_date > $8",
		clause)
	require.Equal(t, []any{
		"accepted", "scheduled", "running", "git",
		"https://github.com/acme/widgets", `%50\%\_off%`, true, since,
	}, args)
}

func TestWhereOffsetsPlaceholders(t *testing.T) {
	t.Parallel()

	clause, args := Where(Postgres, savecode.ListFilter{VisitType: "hg"}, 3)
	require.Equal(t, " WHERE visit_type = $4", clause)
	require.Equal(t, []any{"hg"}, args)
}

func TestWhereOriginURLs(t *testing.T) {
	t.Parallel()

	clause, args := Where(Postgres, savecode.ListFilter{OriginURLs: []string{"a", "b"}}, 0)
	require.Equal(t, " WHERE origin_url IN ($1, $2)", clause)
	require.Equal(t, []any{"a", "b"}, args)

	clause, args = Where(Postgres, savecode.ListFilter{OriginURLs: []string{}}, 0)
	require.Equal(t, " WHERE 1 = 0", clause)
	require.Nil(t, args)
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		page   savecode.Page
		clause string
		args   []any
	}{
		{name: "none", page: savecode.Page{}, clause: "", args: nil},
		{name: "limit", page: savecode.Page{Limit: 10}, clause: " LIMIT $3", args: []any{10}},
		{name: "limit offset", page: savecode.Page{Limit: 10, Offset: 20}, clause: " LIMIT $3 OFFSET $4", args: []any{10, 20}},
		{name: "offset only", page: savecode.Page{Offset: 5}, clause: " LIMIT ALL OFFSET $3", args: []any{5}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clause, args := Paginate(Postgres, tt.page, 2)
			require.Equal(t, tt.clause, clause)
			require.Equal(t, tt.args, args)
		})
	}
}
