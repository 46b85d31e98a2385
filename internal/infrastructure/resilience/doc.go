/*
Package resilience provides a circuit breaker for operations that fail in bursts.

# Overview

The handoff manager wraps pty allocation and child spawning in a Breaker.
When the system runs out of ptys or the target binary keeps failing to
exec, repeated starts fail fast instead of churning descriptors.

# States

- Closed: requests pass; consecutive failures are counted
- Open: requests fail with ErrCircuitOpen until the cooldown elapses
- Half-Open: exactly one probe passes; its outcome closes or reopens

# Usage

	breaker := resilience.New("spawn", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, handoff.ErrPermissionDenied)
		},
	})

	err := breaker.Execute(func() error {
		return channel.Spawn(cmd)
	})
*/
package resilience
