package handoff

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Channel owns one pty pair. The controller side stays with the parent; the
// subordinate side is handed to a single child by Spawn.
type Channel struct {
	mu      sync.Mutex
	ptmx    *os.File // controller
	tty     *os.File // subordinate, nil once handed to the child
	ttyName string
	size    Size
	spawned bool
	closed  bool
}

// OpenChannel allocates a pty pair with the given window size. The
// controller side is non-blocking and registered with the runtime poller, so
// read and write deadlines interrupt pending calls.
func OpenChannel(size Size) (*Channel, error) {
	opened, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	// pty.Open may have called Fd on the controller, leaving it blocking for
	// good; a non-blocking duplicate gets a fresh poller registration.
	ptmx, err := pollableDup(opened)
	_ = opened.Close()
	if err != nil {
		_ = tty.Close()
		return nil, fmt.Errorf("%w: controller: %v", ErrResourceExhausted, err)
	}

	if err := setWinsize(ptmx, size); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("%w: set initial size: %v", ErrResourceExhausted, err)
	}

	return &Channel{
		ptmx:    ptmx,
		tty:     tty,
		ttyName: tty.Name(),
		size:    size,
	}, nil
}

// pollableDup duplicates f into a non-blocking *os.File without calling
// f.Fd.
func pollableDup(f *os.File) (*os.File, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}

	dup := -1
	var dupErr error
	if err := raw.Control(func(fd uintptr) {
		dup, dupErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}

	if err := unix.SetNonblock(dup, true); err != nil {
		_ = unix.Close(dup)
		return nil, err
	}
	// NewFile sees O_NONBLOCK and registers the descriptor with the poller
	return os.NewFile(uintptr(dup), f.Name()), nil
}

// setWinsize issues TIOCSWINSZ through the raw connection so f stays
// non-blocking.
func setWinsize(f *os.File, size Size) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}

	var ioctlErr error
	if err := raw.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{Row: size.Rows, Col: size.Cols})
	}); err != nil {
		return err
	}
	return ioctlErr
}

// Spawn starts cmd with its standard streams on the subordinate side, in a
// new session whose controlling terminal is that subordinate. The parent's
// copy of the subordinate is released afterwards so that Read reports EOF
// once the child and its descendants are gone.
func (c *Channel) Spawn(cmd *exec.Cmd) (*Child, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrChannelClosed
	}
	if c.spawned {
		return nil, &SpawnError{Command: cmd.Path, Reason: "channel already has a child"}
	}

	cmd.Stdin = c.tty
	cmd.Stdout = c.tty
	cmd.Stderr = c.tty
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0 // stdin in the child

	if err := cmd.Start(); err != nil {
		return nil, classifySpawnError(cmd, err)
	}

	c.spawned = true
	_ = c.tty.Close()
	c.tty = nil

	return newChild(cmd), nil
}

func classifySpawnError(cmd *exec.Cmd, err error) error {
	name := cmd.Path
	if len(cmd.Args) > 0 {
		name = cmd.Args[0]
	}

	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, name, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return &SpawnError{Command: name, Reason: "executable not found", Err: err}
	default:
		return &SpawnError{Command: name, Reason: err.Error(), Err: err}
	}
}

func (c *Channel) controller() (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrChannelClosed
	}
	return c.ptmx, nil
}

// Read reads child output. It returns io.EOF once the subordinate side has
// been closed by everyone holding it.
func (c *Channel) Read(p []byte) (int, error) {
	f, err := c.controller()
	if err != nil {
		return 0, err
	}

	n, err := f.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, syscall.EIO):
		// Linux reports a hung-up subordinate as EIO
		return n, io.EOF
	case errors.Is(err, os.ErrClosed):
		return n, ErrChannelClosed
	}
	return n, err
}

// Write sends input to the child.
func (c *Channel) Write(p []byte) (int, error) {
	f, err := c.controller()
	if err != nil {
		return 0, err
	}

	n, err := f.Write(p)
	if errors.Is(err, os.ErrClosed) {
		return n, ErrChannelClosed
	}
	return n, err
}

// SetReadDeadline bounds pending and future reads on the controller side.
func (c *Channel) SetReadDeadline(t time.Time) error {
	f, err := c.controller()
	if err != nil {
		return err
	}
	return f.SetReadDeadline(t)
}

// SetWriteDeadline bounds pending and future writes on the controller side.
func (c *Channel) SetWriteDeadline(t time.Time) error {
	f, err := c.controller()
	if err != nil {
		return err
	}
	return f.SetWriteDeadline(t)
}

// Resize sets the window size of the subordinate side. The kernel delivers
// SIGWINCH to the child's foreground process group.
func (c *Channel) Resize(size Size) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if err := setWinsize(c.ptmx, size); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	c.size = size
	return nil
}

// Size returns the last size applied.
func (c *Channel) Size() Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Name returns the subordinate device path, e.g. /dev/pts/3.
func (c *Channel) Name() string { return c.ttyName }

// Close releases both sides. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.tty != nil {
		errs = append(errs, c.tty.Close())
		c.tty = nil
	}
	errs = append(errs, c.ptmx.Close())
	return errors.Join(errs...)
}

// Child is a process started on a Channel.
type Child struct {
	cmd   *exec.Cmd
	done  chan struct{}
	state *os.ProcessState
	err   error
}

func newChild(cmd *exec.Cmd) *Child {
	c := &Child{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go c.wait()
	return c
}

func (c *Child) wait() {
	c.err = c.cmd.Wait()
	c.state = c.cmd.ProcessState
	close(c.done)
}

// Pid returns the child's process id, which is also its process group id.
func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the child has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// State returns the exit state, or nil while the child runs.
func (c *Child) State() *os.ProcessState {
	if !c.Exited() {
		return nil
	}
	return c.state
}

// Signal delivers sig to the child's process group, falling back to the
// child alone.
func (c *Child) Signal(sig syscall.Signal) error {
	if c.Exited() {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-c.Pid(), sig); err == nil {
		return nil
	}
	return c.cmd.Process.Signal(sig)
}
