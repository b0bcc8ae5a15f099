// Package workchain implements the process-wide FIFO serialization every
// service's sync() attempt is funneled through (§5 "process-wide FIFO
// chain"), re-architected per the design note in §9 from the teacher's
// promise-chain-as-queue idiom into an explicit mutex-guarded chain of
// goroutines, each waiting on the previous stage's completion signal.
package workchain

import "context"

// Chain serializes an arbitrary sequence of stages so that at most one
// runs at a time, in submission order, across every caller sharing the
// Chain value — callers are expected to share a single process-wide
// instance (owned by manager.SyncManager).
type Chain struct {
	mu   chan struct{} // 1-buffered: holds the "current tail" token
	tail <-chan struct{}
}

// New returns a ready Chain with nothing queued.
func New() *Chain {
	done := make(chan struct{})
	close(done)
	c := &Chain{mu: make(chan struct{}, 1), tail: done}
	c.mu <- struct{}{}
	return c
}

// Submit appends fn to the chain. fn runs once every previously submitted
// stage has finished (or ctx is done, in which case fn is skipped). Submit
// itself never blocks; it returns a channel closed when fn (or the skip)
// completes, letting a caller await just its own stage if it wants to.
func (c *Chain) Submit(ctx context.Context, fn func(ctx context.Context)) <-chan struct{} {
	<-c.mu
	prev := c.tail
	done := make(chan struct{})
	c.tail = done
	c.mu <- struct{}{}

	go func() {
		defer close(done)
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn(ctx)
	}()
	return done
}
