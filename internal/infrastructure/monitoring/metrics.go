package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction labels for relayed bytes.
const (
	DirectionInput  = "input"  // terminal to child
	DirectionOutput = "output" // child to terminal
)

// Metrics holds all Prometheus metrics.
//
// Every Record/Inc method is safe on a nil *Metrics so components can run
// without a collector.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	StartFailures    *prometheus.CounterVec
	SessionResults   *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	RelayBytes       *prometheus.CounterVec
	Resizes          prometheus.Counter
	RestoreFailures  prometheus.Counter
	BreakerRejection prometheus.Counter

	startTime time.Time
	gatherer  prometheus.Gatherer
}

// NewMetrics creates a collector on its own registry, so several collectors
// can coexist in one process (tests in particular).
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry registers all metrics on reg.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		gatherer:  reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_http_requests_total",
				Help: "Total number of status API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handoff_http_request_duration_seconds",
				Help:    "Status API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "handoff_sessions_active",
				Help: "Number of registered handoff sessions",
			},
		),
		SessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_sessions_started_total",
				Help: "Total number of handoff sessions that reached Active",
			},
		),
		StartFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_start_failures_total",
				Help: "Total number of failed handoff starts",
			},
			[]string{"reason"},
		),
		SessionResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_session_results_total",
				Help: "Total number of closed sessions by outcome",
			},
			[]string{"outcome"},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "handoff_session_duration_seconds",
				Help:    "Wall time from start to close",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 1800, 3600},
			},
		),
		RelayBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_relay_bytes_total",
				Help: "Bytes relayed between terminal and child",
			},
			[]string{"direction"},
		),
		Resizes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_resizes_total",
				Help: "Window size changes applied to pty channels",
			},
		),
		RestoreFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_restore_failures_total",
				Help: "Terminal mode restorations that failed",
			},
		),
		BreakerRejection: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_breaker_rejections_total",
				Help: "Starts rejected while the spawn breaker was open",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "handoff_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Gatherer exposes the registry for the /metrics endpoint.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.gatherer
}

// RecordHTTPRequest records a status API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of registered sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// IncSessionsStarted counts a session that reached Active
func (m *Metrics) IncSessionsStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordStartFailure counts a failed start by error class
func (m *Metrics) RecordStartFailure(reason string) {
	if m == nil {
		return
	}
	m.StartFailures.WithLabelValues(reason).Inc()
}

// RecordSessionResult counts a closed session and its lifetime
func (m *Metrics) RecordSessionResult(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionResults.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// AddRelayBytes counts relayed bytes in one direction
func (m *Metrics) AddRelayBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RelayBytes.WithLabelValues(direction).Add(float64(n))
}

// IncResizes counts an applied window size change
func (m *Metrics) IncResizes() {
	if m == nil {
		return
	}
	m.Resizes.Inc()
}

// IncRestoreFailures counts a failed terminal restoration
func (m *Metrics) IncRestoreFailures() {
	if m == nil {
		return
	}
	m.RestoreFailures.Inc()
}

// IncBreakerRejections counts a start refused by the open breaker
func (m *Metrics) IncBreakerRejections() {
	if m == nil {
		return
	}
	m.BreakerRejection.Inc()
}
