package handoff

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// resizeCoalescer keeps only the latest requested size. Sizes pushed while
// an earlier one is still pending replace it; the worker applies at most
// limit sizes per second.
type resizeCoalescer struct {
	mu      sync.Mutex
	pending *Size
	notify  chan struct{}
	limiter *rate.Limiter
}

func newResizeCoalescer(perSecond float64) *resizeCoalescer {
	return &resizeCoalescer{
		notify:  make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Push records size as the next one to apply. It never blocks.
func (c *resizeCoalescer) Push(size Size) {
	c.mu.Lock()
	c.pending = &size
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *resizeCoalescer) take() (Size, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return Size{}, false
	}
	size := *c.pending
	c.pending = nil
	return size, true
}

func (c *resizeCoalescer) flush(apply func(Size)) {
	if size, ok := c.take(); ok {
		apply(size)
	}
}

// run applies pending sizes until ctx is done. A size still pending at that
// point is applied before returning.
func (c *resizeCoalescer) run(ctx context.Context, apply func(Size)) {
	defer c.flush(apply)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		c.flush(apply)
	}
}
