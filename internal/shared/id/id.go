// Package id generates the identifiers handed out by the handoff core.
//
// IDs are prefixed ULIDs:
//   - Sortable: sessions started later compare greater
//   - Debuggable: the prefix names the kind of object in logs (hnd_*)
//   - Unique for the lifetime of the process, never reused
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// HandoffID identifies one handoff session in the registry.
type HandoffID string

// RequestID correlates one status API request across logs.
type RequestID string

const (
	// HandoffPrefix tags session identifiers.
	HandoffPrefix = "hnd"
	// RequestPrefix tags status API request identifiers.
	RequestPrefix = "req"
)

// Generator generates monotonic ULIDs.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. Entropy is wrapped
// in a monotonic reader so IDs created in the same millisecond still sort in
// creation order.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewHandoffID generates a new session identifier.
func NewHandoffID() HandoffID {
	return HandoffID(Default().GenerateWithPrefix(HandoffPrefix))
}

func (id HandoffID) String() string { return string(id) }

// NewRequestID generates a new request identifier.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// Valid reports whether id has the handoff prefix followed by a valid ULID.
func (id HandoffID) Valid() bool {
	rest, ok := strings.CutPrefix(string(id), HandoffPrefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}

// Timestamp extracts the creation time encoded in the ID.
func (id HandoffID) Timestamp() (time.Time, error) {
	rest, ok := strings.CutPrefix(string(id), HandoffPrefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("missing %q prefix: %s", HandoffPrefix, id)
	}
	parsed, err := ulid.Parse(rest)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
