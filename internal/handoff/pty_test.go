package handoff

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openTestChannel(t *testing.T, size Size) *Channel {
	t.Helper()
	ch, err := OpenChannel(size)
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func readAll(t *testing.T, ch *Channel) string {
	t.Helper()

	var out bytes.Buffer
	buf := make([]byte, 1024)
	require.NoError(t, ch.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		n, err := ch.Read(buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.String()
		}
		require.NoError(t, err)
	}
}

func TestChannelSpawnRelaysOutput(t *testing.T) {
	ch := openTestChannel(t, Size{Rows: 24, Cols: 80})
	assert.NotEmpty(t, ch.Name())

	child, err := ch.Spawn(exec.Command("echo", "hi"))
	require.NoError(t, err)
	assert.Positive(t, child.Pid())

	assert.Contains(t, readAll(t, ch), "hi\r\n")

	select {
	case <-child.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child was never reaped")
	}
	require.NotNil(t, child.State())
	assert.Equal(t, 0, child.State().ExitCode())
	assert.ErrorIs(t, child.Signal(syscall.SIGTERM), os.ErrProcessDone)
}

func TestChannelSpawnOnce(t *testing.T) {
	ch := openTestChannel(t, Size{Rows: 24, Cols: 80})

	_, err := ch.Spawn(exec.Command("true"))
	require.NoError(t, err)

	_, err = ch.Spawn(exec.Command("true"))
	assert.ErrorIs(t, err, ErrSpawnFailed)
}

func TestChannelSpawnErrors(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "not-executable")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	tests := []struct {
		name    string
		command string
		wantErr error
	}{
		{name: "missing binary", command: filepath.Join(dir, "missing"), wantErr: ErrSpawnFailed},
		{name: "missing from PATH", command: "handoff-no-such-command", wantErr: ErrSpawnFailed},
		{name: "not executable", command: script, wantErr: ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := openTestChannel(t, Size{Rows: 24, Cols: 80})

			_, err := ch.Spawn(exec.Command(tt.command))
			assert.ErrorIs(t, err, tt.wantErr)

			// A failed spawn leaves the channel usable
			_, err = ch.Spawn(exec.Command("true"))
			assert.NoError(t, err)
		})
	}
}

func TestChannelResize(t *testing.T) {
	ch := openTestChannel(t, Size{Rows: 24, Cols: 80})

	require.NoError(t, ch.Resize(Size{Rows: 50, Cols: 160}))
	assert.Equal(t, Size{Rows: 50, Cols: 160}, ch.Size())

	child, err := ch.Spawn(exec.Command("stty", "size"))
	require.NoError(t, err)
	assert.Contains(t, readAll(t, ch), "50 160")
	<-child.Done()
}

func TestChannelClosed(t *testing.T) {
	ch := openTestChannel(t, Size{Rows: 24, Cols: 80})

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "close is idempotent")

	assert.ErrorIs(t, ch.Resize(Size{Rows: 1, Cols: 1}), ErrChannelClosed)

	_, err := ch.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrChannelClosed)

	_, err = ch.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrChannelClosed)

	_, err = ch.Spawn(exec.Command("true"))
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelControllerIsNonBlocking(t *testing.T) {
	ch := openTestChannel(t, Size{Rows: 24, Cols: 80})

	raw, err := ch.ptmx.SyscallConn()
	require.NoError(t, err)

	var flags int
	var flagsErr error
	require.NoError(t, raw.Control(func(fd uintptr) {
		flags, flagsErr = unix.FcntlInt(fd, unix.F_GETFL, 0)
	}))
	require.NoError(t, flagsErr)
	assert.NotZero(t, flags&unix.O_NONBLOCK, "controller must stay non-blocking")

	// Resizing must not flip it back
	require.NoError(t, ch.Resize(Size{Rows: 50, Cols: 160}))
	require.NoError(t, raw.Control(func(fd uintptr) {
		flags, flagsErr = unix.FcntlInt(fd, unix.F_GETFL, 0)
	}))
	require.NoError(t, flagsErr)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestChannelReadDeadlineInterruptsRead(t *testing.T) {
	ch := openTestChannel(t, Size{Rows: 24, Cols: 80})

	// The subordinate is still held by the channel, so nothing ever arrives
	done := make(chan error, 1)
	go func() {
		_, err := ch.Read(make([]byte, 16))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ch.SetReadDeadline(time.Now()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("read deadline did not interrupt a pending read")
	}
}
