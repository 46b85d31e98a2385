/*
Package monitoring provides Prometheus metrics for the handoff core.

# Overview

Each collector owns a private prometheus.Registry. The handoff manager
records session lifecycle events; the status server records its own
requests through Middleware and serves the registry on /metrics.

# Metrics

- handoff_sessions_active, handoff_sessions_started_total
- handoff_start_failures_total{reason}
- handoff_session_results_total{outcome}, handoff_session_duration_seconds
- handoff_relay_bytes_total{direction}
- handoff_resizes_total, handoff_restore_failures_total
- handoff_breaker_rejections_total
- handoff_http_requests_total, handoff_http_request_duration_seconds
- handoff_uptime_seconds

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{})))
*/
package monitoring
