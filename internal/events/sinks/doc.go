// Package sinks contains lifecycle event sinks: structured logs, Pub/Sub
// notifications, live websocket streams and Prometheus counters.
package sinks
