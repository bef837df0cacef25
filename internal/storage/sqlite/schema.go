package sqlite

const schemaSQL = `
CREATE TABLE IF NOT EXISTS save_origin_request (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_date TEXT NOT NULL,
	visit_type TEXT NOT NULL,
	origin_url TEXT NOT NULL,
	status TEXT NOT NULL,
	loading_task_id INTEGER,
	loading_task_status TEXT NOT NULL,
	visit_status TEXT,
	visit_date TEXT,
	from_webhook INTEGER NOT NULL DEFAULT 0,
	webhook_origin TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS save_origin_request_origin_idx ON save_origin_request (origin_url, visit_type);
CREATE INDEX IF NOT EXISTS save_origin_request_loading_idx ON save_origin_request (status, loading_task_status);
CREATE INDEX IF NOT EXISTS save_origin_request_date_idx ON save_origin_request (request_date);
CREATE TABLE IF NOT EXISTS save_authorized_origin (url TEXT PRIMARY KEY);
CREATE TABLE IF NOT EXISTS save_unauthorized_origin (url TEXT PRIMARY KEY);
`
