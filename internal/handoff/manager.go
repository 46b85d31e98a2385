package handoff

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/handoff/internal/infrastructure/logging"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/handoff/internal/shared/id"
)

// Service is the handoff API consumed by the CLI and the status server.
type Service interface {
	Start(ctx context.Context, req Request) (*Session, error)
	Lookup(hid id.HandoffID) (*Session, error)
	Info(hid id.HandoffID) (Info, error)
	Resize(hid id.HandoffID, rows, cols uint16) error
	Cancel(hid id.HandoffID) error
	Await(ctx context.Context, s *Session) (Result, error)
	List() []Info
	Shutdown(ctx context.Context) error
}

var _ Service = (*Manager)(nil)

// ManagerConfig wires a Manager. Every field is optional.
type ManagerConfig struct {
	Options  Options
	Registry *Registry
	Breaker  resilience.Settings
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
}

// Manager starts sessions and tracks them in a registry.
type Manager struct {
	opts     Options
	registry *Registry
	breaker  *resilience.Breaker
	guard    *ModeGuard
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	// wrapTerminal, when set, intercepts relay I/O on the handed-off
	// terminal. Tests use it to inject failures.
	wrapTerminal func(terminalFile) terminalFile
}

// NewManager creates a manager. A nil Registry selects DefaultRegistry.
func NewManager(cfg ManagerConfig) *Manager {
	logger := logging.OrNop(cfg.Logger)

	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	settings := cfg.Breaker
	if settings.IsFailure == nil {
		// Bad commands are the caller's problem; only pty exhaustion and
		// failing spawns count against the breaker.
		settings.IsFailure = func(err error) bool {
			return errors.Is(err, ErrResourceExhausted) || errors.Is(err, ErrSpawnFailed)
		}
	}
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}

	return &Manager{
		opts:     cfg.Options.withDefaults(),
		registry: registry,
		breaker:  resilience.New("spawn", settings),
		guard:    NewModeGuard(logger, cfg.Metrics),
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Registry returns the registry sessions are tracked in.
func (m *Manager) Registry() *Registry { return m.registry }

// Breaker returns the spawn circuit breaker.
func (m *Manager) Breaker() *resilience.Breaker { return m.breaker }

// Start hands req.Terminal to a new child process. On error nothing acquired
// along the way is left behind. Cancelling ctx cancels the session.
func (m *Manager) Start(ctx context.Context, req Request) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, &SpawnError{Reason: "empty command"}
	}

	s := newSession(req, m.opts, m.guard, m.logger, m.metrics)

	size, err := s.acquireTerminal()
	if err != nil {
		s.rollback()
		return nil, m.startFailed(req, err)
	}
	if m.wrapTerminal != nil {
		s.terminal = m.wrapTerminal(s.terminal)
	}

	err = m.breaker.Execute(func() error { return s.attach(size) })
	if err != nil {
		s.rollback()
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			m.metrics.IncBreakerRejections()
			err = fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		return nil, m.startFailed(req, err)
	}

	if err := s.activate(); err != nil {
		s.rollback()
		return nil, m.startFailed(req, err)
	}

	s.onClose = m.sessionClosed
	m.registry.Insert(s)
	m.metrics.IncSessionsStarted()
	m.metrics.SetSessionsActive(m.registry.Len())

	s.logger.Info("Session started",
		zap.String("command", req.Command),
		zap.Strings("args", req.Args),
		zap.Int("pid", s.child.Pid()),
		zap.String("pty", s.channel.Name()),
		zap.Stringer("size", size),
	)

	s.launch()

	stop := context.AfterFunc(ctx, s.Cancel)
	go func() {
		<-s.Done()
		stop()
	}()

	return s, nil
}

func (m *Manager) startFailed(req Request, err error) error {
	reason := failureReason(err)
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		reason = "circuit_open"
	}
	m.metrics.RecordStartFailure(reason)
	m.logger.Warn("Failed to start session",
		zap.String("command", req.Command),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}

func (m *Manager) sessionClosed(s *Session) {
	m.registry.Remove(s.ID())
	m.metrics.SetSessionsActive(m.registry.Len())

	r := s.Result()
	m.metrics.RecordSessionResult(r.Outcome.String(), r.Duration)
}

// Lookup returns the live session registered under hid.
func (m *Manager) Lookup(hid id.HandoffID) (*Session, error) {
	s, ok := m.registry.Lookup(hid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, hid)
	}
	return s, nil
}

// Info describes the live session registered under hid.
func (m *Manager) Info(hid id.HandoffID) (Info, error) {
	s, err := m.Lookup(hid)
	if err != nil {
		return Info{}, err
	}
	return s.Info(), nil
}

// Resize forwards a window size to the session's pty.
func (m *Manager) Resize(hid id.HandoffID, rows, cols uint16) error {
	s, err := m.Lookup(hid)
	if err != nil {
		return err
	}
	return s.Resize(rows, cols)
}

// Cancel cancels the session registered under hid.
func (m *Manager) Cancel(hid id.HandoffID) error {
	s, err := m.Lookup(hid)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

// Await blocks until s has a result or ctx is done.
func (m *Manager) Await(ctx context.Context, s *Session) (Result, error) {
	return s.Wait(ctx)
}

// List returns a view of every live session.
func (m *Manager) List() []Info {
	infos := make([]Info, 0, m.registry.Len())
	m.registry.ForEach(func(s *Session) {
		infos = append(infos, s.Info())
	})
	return infos
}

// Shutdown cancels all sessions and waits for them to close or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	var pending []*Session
	m.registry.ForEach(func(s *Session) {
		s.Cancel()
		pending = append(pending, s)
	})

	if len(pending) > 0 {
		m.logger.Info("Cancelling sessions", zap.Int("count", len(pending)))
	}

	for _, s := range pending {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %d sessions still open: %w", m.registry.Len(), ctx.Err())
		}
	}
	return nil
}

// ExitCode maps a result onto a shell-style process exit status.
func ExitCode(r Result) int {
	switch r.Outcome {
	case OutcomeCancelled:
		return 130
	case OutcomeSignaled:
		return 128 + int(r.Signal)
	default:
		if r.ExitCode < 0 {
			return 1
		}
		return r.ExitCode
	}
}
