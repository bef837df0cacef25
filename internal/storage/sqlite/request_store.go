// Package sqlite provides a SQLite-backed save request store for single-node
// deployments and the CLI.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/storage/sqlfilter"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var dialect = sqlfilter.Dialect{
	Placeholder: func(int) string { return "?" },
	Like:        "LIKE",
	Time:        func(t time.Time) any { return formatTime(t) },
	Bool: func(b bool) any {
		if b {
			return 1
		}
		return 0
	},
	NoLimit: "-1",
}

const requestColumns = "id, request_date, visit_type, origin_url, status, loading_task_id, " +
	"loading_task_status, visit_status, visit_date, from_webhook, webhook_origin, user_id, note"

// RequestStore persists save requests and origin lists in SQLite.
type RequestStore struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at dsn and applies the schema.
// ":memory:" yields a private in-memory database.
func Open(dsn string) (*RequestStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	store := &RequestStore{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *RequestStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity.
func (s *RequestStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Migrate creates the tables and indexes the store needs.
func (s *RequestStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateRequest inserts a request and returns it with its assigned id.
func (s *RequestStore) CreateRequest(ctx context.Context, req savecode.SaveRequest) (savecode.SaveRequest, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO save_origin_request (
	request_date, visit_type, origin_url, status, loading_task_id, loading_task_status,
	visit_status, visit_date, from_webhook, webhook_origin, user_id, note
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(req.RequestDate),
		req.VisitType,
		req.OriginURL,
		string(req.Status),
		nullInt64(req.LoadingTaskID),
		string(req.LoadingTaskStatus),
		nullVisitStatus(req.VisitStatus),
		nullTime(req.VisitDate),
		dialect.Bool(req.FromWebhook),
		req.WebhookOrigin,
		req.UserID,
		req.Note,
	)
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("insert save request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("read save request id: %w", err)
	}
	req.ID = id
	return req, nil
}

// UpdateRequest overwrites the mutable columns of a request, provided the
// row still carries prev's status, loading task status and visit status.
func (s *RequestStore) UpdateRequest(ctx context.Context, prev, next savecode.SaveRequest) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE save_origin_request
SET status = ?, loading_task_id = ?, loading_task_status = ?, visit_status = ?, visit_date = ?, note = ?
WHERE id = ? AND status = ? AND loading_task_status = ? AND visit_status IS ?`,
		string(next.Status),
		nullInt64(next.LoadingTaskID),
		string(next.LoadingTaskStatus),
		nullVisitStatus(next.VisitStatus),
		nullTime(next.VisitDate),
		next.Note,
		next.ID,
		string(prev.Status),
		string(prev.LoadingTaskStatus),
		nullVisitStatus(prev.VisitStatus),
	)
	if err != nil {
		return fmt.Errorf("update save request %d: %w", next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update save request %d: %w", next.ID, err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM save_origin_request WHERE id = ?)`, next.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check save request %d: %w", next.ID, err)
	}
	if !exists {
		return fmt.Errorf("save request %d: %w", next.ID, savecode.ErrNotFound)
	}
	return fmt.Errorf("save request %d: %w", next.ID, savecode.ErrStaleRequest)
}

// GetRequest fetches a request by id.
func (s *RequestStore) GetRequest(ctx context.Context, id int64) (savecode.SaveRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM save_origin_request WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return savecode.SaveRequest{}, fmt.Errorf("save request %d: %w", id, savecode.ErrNotFound)
		}
		return savecode.SaveRequest{}, fmt.Errorf("get save request %d: %w", id, err)
	}
	return req, nil
}

// DeleteRequest removes a request.
func (s *RequestStore) DeleteRequest(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM save_origin_request WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete save request %d: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("save request %d", id))
}

// ListRequests returns matching requests, newest first.
func (s *RequestStore) ListRequests(
	ctx context.Context,
	filter savecode.ListFilter,
	page savecode.Page,
) ([]savecode.SaveRequest, error) {
	where, args := sqlfilter.Where(dialect, filter, 0)
	paging, pageArgs := sqlfilter.Paginate(dialect, page, len(args))
	query := `SELECT ` + requestColumns + ` FROM save_origin_request` + where +
		` ORDER BY request_date DESC, id DESC` + paging
	rows, err := s.db.QueryContext(ctx, query, append(args, pageArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("list save requests: %w", err)
	}
	defer rows.Close()

	out := make([]savecode.SaveRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan save request row: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate save requests: %w", err)
	}
	return out, nil
}

// CountRequests groups requests by status, loading status and visit type.
func (s *RequestStore) CountRequests(ctx context.Context) ([]savecode.Count, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, loading_task_status, visit_type, count(*)
FROM save_origin_request
GROUP BY status, loading_task_status, visit_type
ORDER BY visit_type, status, loading_task_status`)
	if err != nil {
		return nil, fmt.Errorf("count save requests: %w", err)
	}
	defer rows.Close()

	var out []savecode.Count
	for rows.Next() {
		var (
			status, loading string
			c               savecode.Count
		)
		if err := rows.Scan(&status, &loading, &c.VisitType, &c.Total); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		c.Status = savecode.RequestStatus(status)
		c.LoadingTaskStatus = savecode.TaskStatus(loading)
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (savecode.SaveRequest, error) {
	var (
		req                      savecode.SaveRequest
		requestDate              string
		status, loading          string
		taskID                   sql.NullInt64
		visitStatus, visitDate   sql.NullString
		fromWebhook              int
		webhookOrigin, userID, n string
	)
	err := row.Scan(
		&req.ID, &requestDate, &req.VisitType, &req.OriginURL, &status, &taskID,
		&loading, &visitStatus, &visitDate, &fromWebhook, &webhookOrigin, &userID, &n,
	)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	if req.RequestDate, err = time.Parse(timeLayout, requestDate); err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("parse request_date: %w", err)
	}
	req.Status = savecode.RequestStatus(status)
	req.LoadingTaskStatus = savecode.TaskStatus(loading)
	if taskID.Valid {
		id := taskID.Int64
		req.LoadingTaskID = &id
	}
	if visitStatus.Valid {
		vs := savecode.VisitStatus(visitStatus.String)
		req.VisitStatus = &vs
	}
	if visitDate.Valid {
		date, err := time.Parse(timeLayout, visitDate.String)
		if err != nil {
			return savecode.SaveRequest{}, fmt.Errorf("parse visit_date: %w", err)
		}
		req.VisitDate = &date
	}
	req.FromWebhook = fromWebhook != 0
	req.WebhookOrigin = webhookOrigin
	req.UserID = userID
	req.Note = n
	return req, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, savecode.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullVisitStatus(v *savecode.VisitStatus) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}
