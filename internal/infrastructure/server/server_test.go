package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/handoff/internal/api/middleware"
	"github.com/GriffinCanCode/handoff/internal/handoff"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/monitoring"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	mgr := handoff.NewManager(handoff.ManagerConfig{
		Registry: handoff.NewRegistry(),
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics,
	})
	return New(cfg, mgr, mgr.Breaker(), metrics, zaptest.NewLogger(t)), metrics
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Config{Development: true})

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/sessions", http.StatusOK},
		{http.MethodGet, "/sessions/hnd_missing", http.StatusNotFound},
		{http.MethodPost, "/sessions/hnd_missing/cancel", http.StatusNotFound},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{Development: true})

	// Generate a request metric first
	get(t, srv.Handler(), "/healthz")

	w := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	body := w.Body.String()
	assert.Contains(t, body, "handoff_uptime_seconds")
	assert.Contains(t, body, `handoff_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}

func TestSessionRoutesAreRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, Config{
		Development: true,
		RateLimit:   middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
	})

	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/sessions").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, srv.Handler(), "/sessions").Code)

	// Health probes bypass the limiter
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/healthz").Code)
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, Config{Development: true})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}

func TestServeLimitsConnections(t *testing.T) {
	srv, _ := newTestServer(t, Config{Development: true, MaxConnections: 1})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	// An idle connection holds the only slot
	idle, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	client := &http.Client{Timeout: 300 * time.Millisecond}
	_, err = client.Get("http://" + ln.Addr().String() + "/healthz")
	assert.Error(t, err, "second connection should wait for a free slot")

	require.NoError(t, idle.Close())
	assert.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
