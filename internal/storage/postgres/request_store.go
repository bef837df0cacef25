// Package postgres provides the Postgres-backed save request store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/storage/sqlfilter"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// RequestStore persists save requests and origin lists in Postgres.
type RequestStore struct {
	pool pool
}

const requestColumns = "id, request_date, visit_type, origin_url, status, loading_task_id, " +
	"loading_task_status, visit_status, visit_date, from_webhook, webhook_origin, user_id, note"

// New creates a Postgres-backed RequestStore using the provided config.
func New(ctx context.Context, cfg Config) (*RequestStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RequestStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*RequestStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RequestStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RequestStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *RequestStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateRequest inserts a request and returns it with its assigned id.
func (s *RequestStore) CreateRequest(ctx context.Context, req savecode.SaveRequest) (savecode.SaveRequest, error) {
	query := `
INSERT INTO save_origin_request (
	request_date, visit_type, origin_url, status, loading_task_id, loading_task_status,
	visit_status, visit_date, from_webhook, webhook_origin, user_id, note
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id`
	err := s.pool.QueryRow(ctx, query,
		req.RequestDate,
		req.VisitType,
		req.OriginURL,
		string(req.Status),
		req.LoadingTaskID,
		string(req.LoadingTaskStatus),
		visitStatusArg(req.VisitStatus),
		req.VisitDate,
		req.FromWebhook,
		req.WebhookOrigin,
		req.UserID,
		req.Note,
	).Scan(&req.ID)
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("insert save request: %w", err)
	}
	return req, nil
}

// UpdateRequest overwrites the mutable columns of a request, provided the
// row still carries prev's status, loading task status and visit status.
func (s *RequestStore) UpdateRequest(ctx context.Context, prev, next savecode.SaveRequest) error {
	query := `
UPDATE save_origin_request
SET status = $1, loading_task_id = $2, loading_task_status = $3,
	visit_status = $4, visit_date = $5, note = $6
WHERE id = $7 AND status = $8 AND loading_task_status = $9
	AND visit_status IS NOT DISTINCT FROM $10`
	tag, err := s.pool.Exec(ctx, query,
		string(next.Status),
		next.LoadingTaskID,
		string(next.LoadingTaskStatus),
		visitStatusArg(next.VisitStatus),
		next.VisitDate,
		next.Note,
		next.ID,
		string(prev.Status),
		string(prev.LoadingTaskStatus),
		visitStatusArg(prev.VisitStatus),
	)
	if err != nil {
		return fmt.Errorf("update save request %d: %w", next.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missedUpdate(ctx, next.ID)
	}
	return nil
}

// missedUpdate tells a deleted row from one another writer already moved.
func (s *RequestStore) missedUpdate(ctx context.Context, id int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM save_origin_request WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check save request %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("save request %d: %w", id, savecode.ErrNotFound)
	}
	return fmt.Errorf("save request %d: %w", id, savecode.ErrStaleRequest)
}

// GetRequest fetches a request by id.
func (s *RequestStore) GetRequest(ctx context.Context, id int64) (savecode.SaveRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM save_origin_request WHERE id = $1`
	req, err := scanRequest(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return savecode.SaveRequest{}, fmt.Errorf("save request %d: %w", id, savecode.ErrNotFound)
		}
		return savecode.SaveRequest{}, fmt.Errorf("get save request %d: %w", id, err)
	}
	return req, nil
}

// DeleteRequest removes a request.
func (s *RequestStore) DeleteRequest(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM save_origin_request WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete save request %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save request %d: %w", id, savecode.ErrNotFound)
	}
	return nil
}

// ListRequests returns matching requests, newest first.
func (s *RequestStore) ListRequests(
	ctx context.Context,
	filter savecode.ListFilter,
	page savecode.Page,
) ([]savecode.SaveRequest, error) {
	where, args := sqlfilter.Where(sqlfilter.Postgres, filter, 0)
	paging, pageArgs := sqlfilter.Paginate(sqlfilter.Postgres, page, len(args))
	query := `SELECT ` + requestColumns + ` FROM save_origin_request` + where +
		` ORDER BY request_date DESC, id DESC` + paging
	rows, err := s.pool.Query(ctx, query, append(args, pageArgs...)...)
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
	query := `
SELECT status, loading_task_status, visit_type, count(*)
FROM save_origin_request
GROUP BY status, loading_task_status, visit_type
ORDER BY visit_type, status, loading_task_status`
	rows, err := s.pool.Query(ctx, query)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return out, nil
}

func scanRequest(row pgx.Row) (savecode.SaveRequest, error) {
	var (
		req                  savecode.SaveRequest
		status, loading      string
		visitStatus          *string
		webhookOrigin, notes string
	)
	err := row.Scan(
		&req.ID,
		&req.RequestDate,
		&req.VisitType,
		&req.OriginURL,
		&status,
		&req.LoadingTaskID,
		&loading,
		&visitStatus,
		&req.VisitDate,
		&req.FromWebhook,
		&webhookOrigin,
		&req.UserID,
		&notes,
	)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	req.Status = savecode.RequestStatus(status)
	req.LoadingTaskStatus = savecode.TaskStatus(loading)
	if visitStatus != nil {
		vs := savecode.VisitStatus(*visitStatus)
		req.VisitStatus = &vs
	}
	req.WebhookOrigin = webhookOrigin
	req.Note = notes
	req.RequestDate = req.RequestDate.UTC()
	return req, nil
}

func visitStatusArg(status *savecode.VisitStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}
