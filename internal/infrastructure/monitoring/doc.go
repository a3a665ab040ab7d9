// Package monitoring provides Prometheus metrics for the reader service.
//
// Metrics cover the HTTP surface (request counts, latency, response size)
// and the reader domain (document reads, listings, searches, cache
// effectiveness, watch events, preference writes, WebSocket connections).
// Exposition happens via promhttp on GET /metrics.
package monitoring
