package handoff

import (
	"errors"
	"fmt"
)

// Sentinel errors for the handoff package.
var (
	// ErrTerminalUnavailable is returned when the descriptor is not a terminal
	// or its attributes cannot be read.
	ErrTerminalUnavailable = errors.New("terminal unavailable")

	// ErrResourceExhausted is returned when no pty pair can be allocated.
	ErrResourceExhausted = errors.New("pty allocation failed")

	// ErrSpawnFailed is matched by every *SpawnError.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrPermissionDenied is returned when the command exists but may not be executed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrChannelClosed is returned for operations on a torn-down channel or session.
	ErrChannelClosed = errors.New("channel closed")

	// ErrCancellationRequested is the Result.Err of a cancelled session. It is a
	// termination reason, not a failure.
	ErrCancellationRequested = errors.New("cancellation requested")

	// ErrSessionNotFound is returned when an id is not in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSize is returned for a window size with a zero dimension.
	ErrInvalidSize = errors.New("invalid window size")
)

// SpawnError describes why a child could not be started.
type SpawnError struct {
	Command string
	Reason  string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %s", e.Command, e.Reason)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSpawnFailed) hold for every SpawnError.
func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawnFailed
}

// failureReason maps a start error onto a short metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTerminalUnavailable):
		return "terminal_unavailable"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrSpawnFailed):
		return "spawn_failed"
	default:
		return "other"
	}
}
