package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	handlers "github.com/GriffinCanCode/handoff/internal/api/http"
	"github.com/GriffinCanCode/handoff/internal/api/middleware"
	"github.com/GriffinCanCode/handoff/internal/handoff"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/logging"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/resilience"
)

// Config holds status server settings.
type Config struct {
	Address     string
	Development bool
	RateLimit   middleware.RateLimitConfig
	CORSOrigins []string

	// MaxConnections caps concurrent connections; zero means unlimited.
	MaxConnections int
}

// Server is the optional HTTP status surface of a handoff process.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	maxConns   int
	logger     *zap.Logger
}

// New builds the router. metrics and breaker may be nil.
func New(cfg Config, service handoff.Service, breaker *resilience.Breaker, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(monitoring.Middleware(metrics))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	}

	h := handlers.NewHandlers(service, breaker, logger)

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{})))

	// Session control is rate limited; probes and scrapes are not
	sessions := router.Group("/sessions")
	if cfg.RateLimit.RequestsPerSecond > 0 {
		sessions.Use(middleware.RateLimit(cfg.RateLimit))
	}
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.POST("/:id/cancel", h.CancelSession)
	sessions.POST("/:id/resize", h.ResizeSession)

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		maxConns: cfg.MaxConnections,
		logger:   logger,
	}
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on the configured address and serves until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.logger.Info("Starting status server",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.maxConns),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down status server")
	return s.httpServer.Shutdown(ctx)
}
