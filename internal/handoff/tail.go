package handoff

import "sync"

// tailBuffer is a thread-safe circular buffer keeping the most recent bytes
// written to it.
type tailBuffer struct {
	mu   sync.Mutex
	data []byte
	next int
	full bool
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{data: make([]byte, size)}
}

// Write never fails; older bytes are overwritten.
func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(b.data) == 0 {
		return n, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Only the last len(data) bytes can survive
	if len(p) >= len(b.data) {
		copy(b.data, p[len(p)-len(b.data):])
		b.next = 0
		b.full = true
		return n, nil
	}

	copied := copy(b.data[b.next:], p)
	if copied < len(p) {
		copy(b.data, p[copied:])
		b.full = true
	}
	b.next = (b.next + len(p)) % len(b.data)
	if b.next == 0 {
		b.full = true
	}
	return n, nil
}

// Bytes returns the buffered bytes in write order without consuming them.
func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]byte, b.next)
		copy(out, b.data[:b.next])
		return out
	}

	out := make([]byte, len(b.data))
	n := copy(out, b.data[b.next:])
	copy(out[n:], b.data[:b.next])
	return out
}
