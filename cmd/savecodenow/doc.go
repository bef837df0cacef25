// Package main hosts the savecodenow service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, save request submission and lookup, forge webhooks,
//     a lifecycle event websocket, and admin moderation routes guarded by the API key.
//   - Lifecycle manager: internal/manager admits requests against the authorized/unauthorized origin lists,
//     creates oneshot loading tasks in the scheduler and reconciles task runs and archive visits into a request
//     status, failing requests still unfinished after the grace window.
//   - Refresh pipeline: new request ids flow through a bounded in-memory queue sized by save.queue_depth to a fixed
//     worker pool sized by save.workers. A sweeper refreshes every accepted, unfinished request each
//     save.refresh_interval with one batched scheduler round trip per save.refresh_batch_size requests.
//   - Persistence: requests live in memory, SQLite or Postgres (database.driver). Exports are JSON lines written to
//     the configured blob store (memory/local/GCS). Lifecycle events are batched by a hub into log, Prometheus,
//     websocket and Pub/Sub sinks.
//   - Configuration & plumbing: Viper populates config from env/files and hot-reloads the webhook cooldown and log
//     level; zap provides structured logging; Prometheus metrics are served on /metrics; OpenTelemetry spans wrap
//     scheduler calls and reconciliation, exported to Cloud Trace when a project is configured.
//
// Quick checklist:
//   - Configure env vars: SAVECODENOW_SERVER_PORT, SAVECODENOW_DATABASE_DRIVER / _DSN, SAVECODENOW_SCHEDULER_URL,
//     SAVECODENOW_ARCHIVE_URL, SAVECODENOW_AUTH_ENABLED / _API_KEY, SAVECODENOW_WEBHOOKS_SECRET.
//   - Run locally: go run ./cmd/savecodenow serve --config config.yaml (an empty scheduler url uses an in-memory
//     scheduler, handy for trying the API).
//   - Management: savecodenow refresh | migrate | export | origins add/list/remove | requests list.
package main
