// Package http implements the session status API handlers.
//
// Routes (registered by internal/infrastructure/server):
//
//	GET  /healthz
//	GET  /sessions
//	GET  /sessions/:id
//	POST /sessions/:id/cancel
//	POST /sessions/:id/resize   {"rows": 40, "cols": 120}
package http
