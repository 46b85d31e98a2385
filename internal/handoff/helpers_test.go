package handoff

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

// testTerminal stands in for a user's terminal. The subordinate side is
// handed off; the test types into and reads from the controller side.
type testTerminal struct {
	t    *testing.T
	ptmx *os.File
	tty  *os.File

	mu   sync.Mutex
	out  bytes.Buffer
	done chan struct{}
}

func newTestTerminal(t *testing.T) *testTerminal {
	t.Helper()

	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	require.NoError(t, pty.Setsize(ptmx, &pty.Winsize{Rows: 30, Cols: 100}))

	tt := &testTerminal{t: t, ptmx: ptmx, tty: tty, done: make(chan struct{})}
	go tt.collect()

	t.Cleanup(func() {
		_ = tty.Close()
		_ = ptmx.Close()
		<-tt.done
	})
	return tt
}

func (tt *testTerminal) collect() {
	defer close(tt.done)

	buf := make([]byte, 4096)
	for {
		n, err := tt.ptmx.Read(buf)
		if n > 0 {
			tt.mu.Lock()
			tt.out.Write(buf[:n])
			tt.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Output returns everything the terminal has displayed so far.
func (tt *testTerminal) Output() string {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.out.String()
}

// Type sends keystrokes to whoever reads the terminal.
func (tt *testTerminal) Type(s string) {
	tt.t.Helper()
	_, err := io.WriteString(tt.ptmx, s)
	require.NoError(tt.t, err)
}

func (tt *testTerminal) termios() unix.Termios {
	tt.t.Helper()
	attrs, err := unix.IoctlGetTermios(int(tt.tty.Fd()), ioctlReadTermios)
	require.NoError(tt.t, err)
	return *attrs
}

func (tt *testTerminal) waitFor(substr string) {
	tt.t.Helper()
	require.Eventually(tt.t, func() bool {
		return bytes.Contains([]byte(tt.Output()), []byte(substr))
	}, 5*time.Second, 10*time.Millisecond, "terminal never showed %q; got %q", substr, tt.Output())
}

func testOptions() Options {
	return Options{
		DrainGrace:      100 * time.Millisecond,
		KillTimeout:     time.Second,
		DefaultSize:     Size{Rows: 24, Cols: 80},
		Term:            "xterm",
		Raw:             true,
		WatchWindowSize: false,
		ResizeRate:      100,
		TailSize:        1024,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Options:  testOptions(),
		Registry: NewRegistry(),
		Logger:   zaptest.NewLogger(t),
	})
}
