package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/GriffinCanCode/handoff/internal/api/middleware"
	"github.com/GriffinCanCode/handoff/internal/handoff"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/config"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/logging"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(execute())
}

func execute() int {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "Config file (YAML or TOML)")
	metricsAddr := flag.String("metrics-addr", "", "Status server address, overrides METRICS_ADDR")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] -- command [args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 1
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "handoff: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.Metrics.Address = *metricsAddr
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "handoff: %v\n", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck
	logger := log.Logger

	metrics := monitoring.NewMetrics()
	mgr := handoff.NewManager(handoff.ManagerConfig{
		Options: handoff.Options{
			DrainGrace:      cfg.Handoff.DrainGrace,
			KillTimeout:     cfg.Handoff.KillTimeout,
			DefaultSize:     handoff.Size{Rows: cfg.Handoff.DefaultRows, Cols: cfg.Handoff.DefaultCols},
			Term:            cfg.Handoff.Term,
			Raw:             cfg.Handoff.Raw,
			WatchWindowSize: cfg.Handoff.WatchWindowSize,
			ResizeRate:      cfg.Handoff.ResizeRate,
		},
		Registry: handoff.DefaultRegistry(),
		Breaker: resilience.Settings{
			Threshold: cfg.Breaker.Threshold,
			Cooldown:  cfg.Breaker.Cooldown,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	session, err := mgr.Start(context.Background(), handoff.Request{
		Command:  args[0],
		Args:     args[1:],
		Terminal: os.Stdin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "handoff: %v\n", err)
		return 1
	}

	var (
		g      run.Group
		result handoff.Result
	)

	// The session actor ends the group when the child is done. When another
	// actor ends first, the session is cancelled and still awaited.
	g.Add(func() error {
		r, err := mgr.Await(context.Background(), session)
		result = r
		return err
	}, func(error) {
		session.Cancel()
	})

	g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if cfg.Metrics.Address != "" {
		srv := server.New(server.Config{
			Address:     cfg.Metrics.Address,
			Development: cfg.Logging.Development,
			RateLimit: middleware.RateLimitConfig{
				RequestsPerSecond: cfg.Metrics.RequestsPerSecond,
				Burst:             cfg.Metrics.Burst,
			},
			CORSOrigins:    cfg.Metrics.CORSOrigins,
			MaxConnections: cfg.Metrics.MaxConnections,
		}, mgr, mgr.Breaker(), metrics, logger)

		g.Add(srv.Run, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Status server shutdown failed", zap.Error(err))
			}
		})
	}

	if err := g.Run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Info("Received signal", zap.Stringer("signal", sig.Signal))
		} else {
			logger.Error("Handoff failed", zap.Error(err))
		}
	}

	if result.Err != nil {
		logger.Warn("Relay ended with error", zap.Error(result.Err))
	}
	return handoff.ExitCode(result)
}

// newLogger builds the process logger. Without a log file, output shares the
// handed-off terminal, so only warnings and errors are written there.
func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	lc := logging.Config{
		Level:       cfg.Level,
		Development: cfg.Development,
	}
	switch {
	case cfg.File != "":
		lc.OutputPaths = []string{cfg.File}
	case term.IsTerminal(int(os.Stderr.Fd())) && (cfg.Level == "" || cfg.Level == "debug" || cfg.Level == "info"):
		lc.Level = "warn"
	}
	return logging.New(lc)
}
