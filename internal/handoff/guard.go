package handoff

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/GriffinCanCode/handoff/internal/infrastructure/logging"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/monitoring"
)

// Snapshot is a captured terminal mode: termios attributes plus the file
// status flags of the descriptor. It is restored at most once.
type Snapshot struct {
	fd       int
	termios  unix.Termios
	flags    int
	restored atomic.Bool
}

// Fd returns the descriptor the snapshot belongs to.
func (s *Snapshot) Fd() int { return s.fd }

// Termios returns a copy of the captured attributes.
func (s *Snapshot) Termios() unix.Termios { return s.termios }

// Restored reports whether Restore has consumed the snapshot.
func (s *Snapshot) Restored() bool { return s.restored.Load() }

// ModeGuard captures, alters and restores terminal modes.
type ModeGuard struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewModeGuard creates a guard. Both arguments may be nil.
func NewModeGuard(logger *zap.Logger, metrics *monitoring.Metrics) *ModeGuard {
	return &ModeGuard{
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}
}

// Capture reads the current mode of fd.
func (g *ModeGuard) Capture(fd int) (*Snapshot, error) {
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%w: fd %d is not a terminal", ErrTerminalUnavailable, fd)
	}

	attrs, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return nil, fmt.Errorf("%w: read attributes: %v", ErrTerminalUnavailable, err)
	}

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: read status flags: %v", ErrTerminalUnavailable, err)
	}

	return &Snapshot{fd: fd, termios: *attrs, flags: flags}, nil
}

// ApplyRaw switches fd into raw mode. Applying it twice is harmless.
func (g *ModeGuard) ApplyRaw(fd int) error {
	if _, err := term.MakeRaw(fd); err != nil {
		return fmt.Errorf("%w: raw mode: %v", ErrTerminalUnavailable, err)
	}
	return nil
}

// Restore reapplies a snapshot. It runs on teardown paths, so failures are
// logged and counted rather than returned.
func (g *ModeGuard) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	if !s.restored.CompareAndSwap(false, true) {
		g.logger.Debug("Terminal snapshot already restored", zap.Int("fd", s.fd))
		return
	}

	attrs := s.termios
	if err := unix.IoctlSetTermios(s.fd, ioctlWriteTermios, &attrs); err != nil {
		g.logger.Warn("Failed to restore terminal attributes", zap.Int("fd", s.fd), zap.Error(err))
		g.metrics.IncRestoreFailures()
	}

	if _, err := unix.FcntlInt(uintptr(s.fd), unix.F_SETFL, s.flags); err != nil {
		g.logger.Warn("Failed to restore terminal status flags", zap.Int("fd", s.fd), zap.Error(err))
		g.metrics.IncRestoreFailures()
	}
}
