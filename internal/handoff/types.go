package handoff

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/GriffinCanCode/handoff/internal/shared/id"
)

// Size is a terminal window size in character cells.
type Size struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Cols, s.Rows) }

// orDefault fills zero dimensions from def.
func (s Size) orDefault(def Size) Size {
	if s.Rows == 0 {
		s.Rows = def.Rows
	}
	if s.Cols == 0 {
		s.Cols = def.Cols
	}
	return s
}

// Status is a session lifecycle state. Values only ever increase.
type Status int32

const (
	StatusInitializing Status = iota
	StatusActive
	StatusDraining
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusActive:
		return "active"
	case StatusDraining:
		return "draining"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Outcome classifies how a session ended.
type Outcome int

const (
	// OutcomeExited means the child exited on its own; see Result.ExitCode.
	OutcomeExited Outcome = iota
	// OutcomeSignaled means the child was terminated by a signal it was not
	// asked to receive by Cancel; see Result.Signal.
	OutcomeSignaled
	// OutcomeCancelled means Cancel (or the start context) ended the session.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExited:
		return "exited"
	case OutcomeSignaled:
		return "signaled"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Result is the single terminal result of a session.
type Result struct {
	Outcome  Outcome
	ExitCode int            // -1 when the child died from a signal
	Signal   syscall.Signal // set when the child died from a signal
	// Err is ErrCancellationRequested for cancellations, or the relay failure
	// that ended the session early. Nil for a clean run.
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	BytesIn   int64 // terminal to child
	BytesOut  int64 // child to terminal
	// Tail holds the last bytes the child wrote, for diagnostics.
	Tail []byte
}

// Request describes one handoff.
type Request struct {
	Command string
	Args    []string
	// Env entries ("KEY=value") are appended to the inherited environment.
	Env []string
	Dir string
	// Terminal is the terminal being handed off, typically os.Stdin.
	// The caller keeps ownership; the session works on a duplicate. The
	// duplicate shares the caller's file status flags, so Terminal is
	// O_NONBLOCK until the session closes and blocking reads on it may fail
	// with EAGAIN in the meantime. The original flags are restored on close.
	Terminal *os.File
}

// Info is the public representation of a session.
type Info struct {
	ID        id.HandoffID `json:"id"`
	Command   string       `json:"command"`
	Args      []string     `json:"args"`
	Status    string       `json:"status"`
	Pid       int          `json:"pid"`
	Rows      uint16       `json:"rows"`
	Cols      uint16       `json:"cols"`
	StartedAt time.Time    `json:"started_at"`
}

// Options tunes session behaviour.
type Options struct {
	// DrainGrace bounds the post-termination output flush. Zero selects the
	// default; a negative value discards pending output immediately.
	DrainGrace time.Duration
	// KillTimeout is how long a signalled child gets before SIGKILL.
	KillTimeout time.Duration
	// DefaultSize is used when the terminal reports a zero size.
	DefaultSize Size
	// Term is exported to the child as TERM.
	Term string
	// Raw puts the handed-off terminal into raw mode while the child runs.
	Raw bool
	// WatchWindowSize forwards SIGWINCH-driven size changes of the terminal.
	WatchWindowSize bool
	// ResizeRate caps applied resizes per second; pending sizes coalesce.
	ResizeRate float64
	// TailSize is the capacity of Result.Tail.
	TailSize int
}

// DefaultOptions returns the settings used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		DrainGrace:      250 * time.Millisecond,
		KillTimeout:     2 * time.Second,
		DefaultSize:     Size{Rows: 24, Cols: 80},
		Term:            "xterm-256color",
		Raw:             true,
		WatchWindowSize: true,
		ResizeRate:      30,
		TailSize:        4096,
	}
}

// withDefaults fills zero-valued numeric fields. Booleans are taken as given.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	switch {
	case o.DrainGrace == 0:
		o.DrainGrace = def.DrainGrace
	case o.DrainGrace < 0:
		// negative disables the flush wait
		o.DrainGrace = 0
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = def.KillTimeout
	}
	o.DefaultSize = o.DefaultSize.orDefault(def.DefaultSize)
	if o.Term == "" {
		o.Term = def.Term
	}
	if o.ResizeRate <= 0 {
		o.ResizeRate = def.ResizeRate
	}
	if o.TailSize <= 0 {
		o.TailSize = def.TailSize
	}
	return o
}
