// Package api hosts the HTTP server and REST handlers of the save code now
// service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /api/1/origin/save/... for submitting and inspecting save requests,
//     receiving forge webhooks and streaming lifecycle events.
//   - /admin/origin/save/... for moderation and origin list management,
//     behind the admin API key.
package api
