package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS save_origin_request (
	id BIGSERIAL PRIMARY KEY,
	request_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	visit_type TEXT NOT NULL,
	origin_url TEXT NOT NULL,
	status TEXT NOT NULL,
	loading_task_id BIGINT,
	loading_task_status TEXT NOT NULL,
	visit_status TEXT,
	visit_date TIMESTAMPTZ,
	from_webhook BOOLEAN NOT NULL DEFAULT false,
	webhook_origin TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS save_origin_request_origin_idx ON save_origin_request (origin_url, visit_type)`,
	`CREATE INDEX IF NOT EXISTS save_origin_request_loading_idx ON save_origin_request (status, loading_task_status)`,
	`CREATE INDEX IF NOT EXISTS save_origin_request_date_idx ON save_origin_request (request_date DESC)`,
	`CREATE TABLE IF NOT EXISTS save_authorized_origin (url TEXT PRIMARY KEY)`,
	`CREATE TABLE IF NOT EXISTS save_unauthorized_origin (url TEXT PRIMARY KEY)`,
}

// Migrate creates the tables and indexes the store needs. It is idempotent.
func (s *RequestStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
