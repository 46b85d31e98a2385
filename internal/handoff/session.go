package handoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/GriffinCanCode/handoff/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/handoff/internal/shared/id"
)

const (
	relayBufferSize = 32 * 1024

	// drainBackstop is how long past the drain deadline the output pump may
	// take before the pty is closed under it.
	drainBackstop = 100 * time.Millisecond
)

// terminalFile is the handed-off terminal as the relay sees it.
type terminalFile interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session is one handoff: a child running on a pty while the caller's
// terminal is relayed to it.
type Session struct {
	id      id.HandoffID
	request Request
	opts    Options
	guard   *ModeGuard
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// termFd is the duplicated terminal descriptor. terminal wraps it; its
	// Fd method must not be called since that would make it blocking again.
	termFd   int
	terminal terminalFile
	snapshot *Snapshot
	channel  *Channel
	child    *Child
	resizer  *resizeCoalescer

	mu            sync.Mutex
	status        Status
	resizeStopped bool
	result        Result

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}

	inDone     chan struct{}
	inputErr   error
	outDone    chan struct{}
	outputErr  error
	resizeDone chan struct{}
	stopResize context.CancelFunc

	// onClose runs after the session is Closed and before Done fires.
	onClose func(*Session)

	startedAt time.Time
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
	tail      *tailBuffer
}

func newSession(req Request, opts Options, guard *ModeGuard, logger *zap.Logger, metrics *monitoring.Metrics) *Session {
	return &Session{
		request:  req,
		opts:     opts,
		guard:    guard,
		logger:   logger,
		metrics:  metrics,
		termFd:   -1,
		status:   StatusInitializing,
		resizer:  newResizeCoalescer(opts.ResizeRate),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		inDone:   make(chan struct{}),
		outDone:  make(chan struct{}),
		tail:     newTailBuffer(opts.TailSize),
	}
}

// ID returns the registry id. It is empty until the session is registered.
func (s *Session) ID() id.HandoffID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) bind(hid id.HandoffID) {
	s.mu.Lock()
	s.id = hid
	s.mu.Unlock()
	s.logger = s.logger.With(zap.String("session_id", hid.String()))
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// advance moves the session one state forward. Skipping a state or moving
// backwards is refused.
func (s *Session) advance(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next != s.status+1 {
		return false
	}
	s.status = next
	return true
}

// Size returns the window size last applied to the pty.
func (s *Session) Size() Size {
	if s.channel == nil {
		return Size{}
	}
	return s.channel.Size()
}

// Info returns a point-in-time view of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:        s.id,
		Command:   s.request.Command,
		Args:      s.request.Args,
		Status:    s.status.String(),
		StartedAt: s.startedAt,
	}
	s.mu.Unlock()

	if s.child != nil {
		info.Pid = s.child.Pid()
	}
	size := s.Size()
	info.Rows, info.Cols = size.Rows, size.Cols
	return info
}

// Done is closed once the session is Closed and its result is available.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session is Closed or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the session result. It is the zero value until Done fires.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Resize asks for a new pty window size. Rapid calls coalesce; the latest
// size is always applied while the channel is open.
func (s *Session) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, cols, rows)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resizeStopped || s.status == StatusClosed {
		return ErrChannelClosed
	}
	s.resizer.Push(Size{Rows: rows, Cols: cols})
	return nil
}

// Cancel asks the session to end without waiting for the child to exit on
// its own. It never blocks and may be called any number of times from any
// goroutine, including signal handlers.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
		if s.child != nil && s.Status() < StatusClosed {
			_ = s.child.Signal(syscall.SIGTERM)
		}
	})
}

func (s *Session) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// acquireTerminal duplicates the caller's terminal, snapshots its mode and
// reads its size. Nothing has been allocated when it fails on a non-terminal.
func (s *Session) acquireTerminal() (Size, error) {
	if s.request.Terminal == nil {
		return Size{}, fmt.Errorf("%w: no terminal given", ErrTerminalUnavailable)
	}

	srcFd := int(s.request.Terminal.Fd())
	if !term.IsTerminal(srcFd) {
		return Size{}, fmt.Errorf("%w: %s is not a terminal", ErrTerminalUnavailable, s.request.Terminal.Name())
	}

	fd, err := unix.FcntlInt(uintptr(srcFd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return Size{}, fmt.Errorf("%w: duplicate descriptor: %v", ErrResourceExhausted, err)
	}
	s.termFd = fd

	snapshot, err := s.guard.Capture(fd)
	if err != nil {
		return Size{}, err
	}
	s.snapshot = snapshot

	// Non-blocking lets the runtime poller interrupt reads with deadlines
	if err := unix.SetNonblock(fd, true); err != nil {
		return Size{}, fmt.Errorf("%w: set non-blocking: %v", ErrTerminalUnavailable, err)
	}
	s.terminal = os.NewFile(uintptr(fd), s.request.Terminal.Name())

	size := s.opts.DefaultSize
	if cols, rows, err := term.GetSize(fd); err == nil {
		size = Size{Rows: uint16(rows), Cols: uint16(cols)}.orDefault(s.opts.DefaultSize)
	}
	return size, nil
}

// attach opens the pty and spawns the child on it.
func (s *Session) attach(size Size) error {
	channel, err := OpenChannel(size)
	if err != nil {
		return err
	}

	child, err := channel.Spawn(s.command())
	if err != nil {
		_ = channel.Close()
		return err
	}

	s.channel = channel
	s.child = child
	return nil
}

func (s *Session) command() *exec.Cmd {
	cmd := exec.Command(s.request.Command, s.request.Args...)
	cmd.Dir = s.request.Dir
	cmd.Env = append(os.Environ(), "TERM="+s.opts.Term)
	cmd.Env = append(cmd.Env, s.request.Env...)
	return cmd
}

// activate switches the terminal into raw mode and marks the session Active.
func (s *Session) activate() error {
	if s.opts.Raw {
		if err := s.guard.ApplyRaw(s.termFd); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.advance(StatusActive)
	return nil
}

// rollback releases whatever a failed start acquired, newest first.
func (s *Session) rollback() {
	if s.child != nil {
		_ = s.child.Signal(syscall.SIGKILL)
		<-s.child.Done()
	}
	if s.channel != nil {
		_ = s.channel.Close()
	}
	s.guard.Restore(s.snapshot)

	switch {
	case s.terminal != nil:
		_ = s.terminal.Close()
	case s.termFd >= 0:
		_ = unix.Close(s.termFd)
	}

	s.abort()
	close(s.done)
}

// abort marks a session that never became Active as Closed. Such a session
// is never registered or returned, so no caller observes the jump.
func (s *Session) abort() {
	s.mu.Lock()
	if s.status == StatusInitializing {
		s.status = StatusClosed
	}
	s.mu.Unlock()
}

// launch starts the relay goroutines. The session must be Active.
func (s *Session) launch() {
	ctx, stop := context.WithCancel(context.Background())
	s.stopResize = stop
	s.resizeDone = make(chan struct{})

	go func() {
		defer close(s.resizeDone)
		s.resizer.run(ctx, s.applySize)
	}()
	if s.opts.WatchWindowSize {
		go s.watchWindowSize(ctx)
	}

	go s.pumpInput()
	go s.pumpOutput()
	go s.run()
}

func (s *Session) applySize(size Size) {
	if err := s.channel.Resize(size); err != nil {
		s.logger.Warn("Failed to resize pty", zap.Stringer("size", size), zap.Error(err))
		return
	}
	s.metrics.IncResizes()
	s.logger.Debug("Resized pty", zap.Stringer("size", size))
}

// watchWindowSize follows SIGWINCH on the handed-off terminal.
func (s *Session) watchWindowSize(ctx context.Context) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			cols, rows, err := term.GetSize(s.termFd)
			if err != nil || rows <= 0 || cols <= 0 {
				continue
			}
			_ = s.Resize(uint16(rows), uint16(cols))
		}
	}
}

// pumpInput copies terminal input to the child in arrival order.
func (s *Session) pumpInput() {
	defer close(s.inDone)

	buf := make([]byte, relayBufferSize)
	for {
		n, err := s.terminal.Read(buf)
		if n > 0 {
			if s.Status() >= StatusDraining {
				return
			}
			if _, werr := s.channel.Write(buf[:n]); werr != nil {
				if !isRelayShutdown(werr) {
					s.setRelayErr(&s.inputErr, fmt.Errorf("write to pty: %w", werr))
				}
				return
			}
			s.bytesIn.Add(int64(n))
			s.metrics.AddRelayBytes(monitoring.DirectionInput, n)
		}
		if err != nil {
			if !isRelayShutdown(err) {
				s.setRelayErr(&s.inputErr, fmt.Errorf("read from terminal: %w", err))
			}
			return
		}
	}
}

// pumpOutput copies child output to the terminal until EOF or the drain
// deadline.
func (s *Session) pumpOutput() {
	defer close(s.outDone)

	buf := make([]byte, relayBufferSize)
	for {
		n, err := s.channel.Read(buf)
		if n > 0 {
			_, _ = s.tail.Write(buf[:n])
			if _, werr := s.terminal.Write(buf[:n]); werr != nil {
				if !isRelayShutdown(werr) {
					s.setRelayErr(&s.outputErr, fmt.Errorf("write to terminal: %w", werr))
				}
				return
			}
			s.bytesOut.Add(int64(n))
			s.metrics.AddRelayBytes(monitoring.DirectionOutput, n)
		}
		if err != nil {
			if !isRelayShutdown(err) {
				s.setRelayErr(&s.outputErr, fmt.Errorf("read from pty: %w", err))
			}
			return
		}
	}
}

func (s *Session) setRelayErr(dst *error, err error) {
	s.mu.Lock()
	*dst = err
	s.mu.Unlock()
}

func (s *Session) relayErr() (input, output error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputErr, s.outputErr
}

// isRelayShutdown reports errors that end a pump without being a failure.
func isRelayShutdown(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, ErrChannelClosed) ||
		errors.Is(err, os.ErrClosed)
}

// run waits for the first termination trigger, then drains and closes.
func (s *Session) run() {
	inDone := s.inDone
	cancelled := false

wait:
	for {
		select {
		case <-s.child.Done():
			break wait
		case <-s.outDone:
			break wait
		case <-inDone:
			if inErr, _ := s.relayErr(); inErr != nil {
				break wait
			}
			// Terminal input ended; the child may still have work to do
			inDone = nil
		case <-s.cancelCh:
			cancelled = true
			break wait
		}
	}

	if !cancelled {
		// Cancel landed before the relay noticed the exit it caused
		cancelled = s.cancelled()
	}

	s.drain()
	s.finish(cancelled)
}

// drain stops input and bounds the remaining output flush by DrainGrace.
func (s *Session) drain() {
	s.advance(StatusDraining)
	s.logger.Debug("Session draining")

	now := time.Now()
	if err := s.terminal.SetReadDeadline(now); err != nil {
		s.logger.Debug("Terminal does not support read deadlines", zap.Error(err))
	}
	_ = s.channel.SetWriteDeadline(now)

	deadline := now.Add(s.opts.DrainGrace)
	if err := s.channel.SetReadDeadline(deadline); err != nil {
		s.logger.Debug("Pty does not support read deadlines", zap.Error(err))
	}
	_ = s.terminal.SetWriteDeadline(deadline)
}

func (s *Session) finish(cancelled bool) {
	// The child is stopped alongside the output flush, so a descendant that
	// keeps the pty open cannot hold up SIGKILL.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.stopChild(cancelled)
	}()

	s.awaitOutput()

	// A terminal the poller cannot interrupt leaves the input pump blocked
	// in read; it exits on its own once the channel is closed.
	select {
	case <-s.inDone:
	case <-time.After(s.opts.KillTimeout):
		s.logger.Warn("Input relay did not stop, abandoning it")
	}

	<-stopped

	s.mu.Lock()
	s.resizeStopped = true
	s.mu.Unlock()
	s.stopResize()
	<-s.resizeDone

	s.guard.Restore(s.snapshot)
	_ = s.terminal.Close()
	if err := s.channel.Close(); err != nil {
		s.logger.Warn("Failed to close pty", zap.Error(err))
	}

	result := s.buildResult(cancelled)

	s.mu.Lock()
	s.result = result
	s.status = StatusClosed
	s.mu.Unlock()

	s.logger.Info("Session closed",
		zap.Stringer("outcome", result.Outcome),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Int64("bytes_in", result.BytesIn),
		zap.Int64("bytes_out", result.BytesOut),
		zap.Error(result.Err),
	)

	if s.onClose != nil {
		s.onClose(s)
	}
	close(s.done)
}

// awaitOutput waits for the output pump, which the drain deadline normally
// stops. Past the deadline the pty is closed under it, and a pump still stuck
// after that is abandoned.
func (s *Session) awaitOutput() {
	timer := time.NewTimer(s.opts.DrainGrace + drainBackstop)
	defer timer.Stop()

	select {
	case <-s.outDone:
		return
	case <-timer.C:
	}

	s.logger.Warn("Output relay missed the drain deadline, closing pty")
	_ = s.channel.Close()

	select {
	case <-s.outDone:
	case <-time.After(s.opts.KillTimeout):
		s.logger.Warn("Output relay did not stop, abandoning it")
	}
}

// stopChild makes sure the child is reaped. A child that outlives the relay
// gets SIGHUP, as it would from a closing terminal, and SIGKILL after
// KillTimeout. A cancelled child already received SIGTERM.
func (s *Session) stopChild(cancelled bool) {
	if cancelled || s.cancelled() {
		// Cancel may have raced the transition to Active
		_ = s.child.Signal(syscall.SIGTERM)
	} else {
		if s.waitChild(s.opts.DrainGrace) {
			return
		}
		s.logger.Debug("Child outlived the relay, sending SIGHUP", zap.Int("pid", s.child.Pid()))
		_ = s.child.Signal(syscall.SIGHUP)
	}

	if s.waitChild(s.opts.KillTimeout) {
		return
	}
	s.logger.Warn("Child ignored termination, sending SIGKILL", zap.Int("pid", s.child.Pid()))
	_ = s.child.Signal(syscall.SIGKILL)
	<-s.child.Done()
}

func (s *Session) waitChild(d time.Duration) bool {
	if s.child.Exited() {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.child.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (s *Session) buildResult(cancelled bool) Result {
	end := time.Now()

	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()

	r := Result{
		ExitCode:  -1,
		StartedAt: started,
		EndedAt:   end,
		Duration:  end.Sub(started),
		BytesIn:   s.bytesIn.Load(),
		BytesOut:  s.bytesOut.Load(),
		Tail:      s.tail.Bytes(),
	}

	if state := s.child.State(); state != nil {
		r.ExitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			r.Signal = ws.Signal()
		}
	}

	switch {
	case cancelled:
		r.Outcome = OutcomeCancelled
		r.Err = ErrCancellationRequested
		return r
	case r.Signal != 0:
		r.Outcome = OutcomeSignaled
	default:
		r.Outcome = OutcomeExited
	}

	inErr, outErr := s.relayErr()
	if outErr != nil {
		r.Err = outErr
	} else {
		r.Err = inErr
	}
	return r
}
