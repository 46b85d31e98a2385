/*
Package handoff hands a terminal to a child process and takes it back.

# Overview

A Session captures the mode of the caller's terminal, allocates a pty
pair, starts the child on the subordinate side and relays bytes between
the terminal and the controller side until the child exits, the output
reaches EOF, a relay error occurs or the session is cancelled. The
terminal mode is then restored exactly as captured.

	Initializing -> Active -> Draining -> Closed

Draining stops terminal input and flushes remaining child output for at
most Options.DrainGrace. Every started session yields exactly one Result.

# Components

  - ModeGuard: termios capture, raw mode and restore
  - Channel: pty pair, spawn, resize, read and write
  - Session: relay and lifecycle state machine
  - Registry: process-wide table used for signal-driven cancellation
  - Manager: starts sessions behind a circuit breaker and records metrics

# Usage

	mgr := handoff.NewManager(handoff.ManagerConfig{
		Options:  handoff.DefaultOptions(),
		Registry: handoff.DefaultRegistry(),
		Logger:   logger,
	})

	s, err := mgr.Start(ctx, handoff.Request{
		Command:  "vim",
		Args:     []string{"notes.txt"},
		Terminal: os.Stdin,
	})
	if err != nil {
		return err
	}
	result, err := s.Wait(ctx)
*/
package handoff
