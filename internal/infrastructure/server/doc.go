// Package server exposes the optional HTTP status surface of a handoff
// process.
//
// Routes:
//
//	GET  /healthz              liveness plus breaker state
//	GET  /metrics              Prometheus scrape endpoint
//	GET  /sessions             live sessions
//	GET  /sessions/:id         one session
//	POST /sessions/:id/cancel  request cancellation
//	POST /sessions/:id/resize  {"rows": 40, "cols": 120}
//
// The /sessions group is rate limited per client IP. CORS is only enabled
// when origins are configured.
package server
