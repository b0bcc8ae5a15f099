// Package ratelimit backs the per-service rate-limited fetch (§4.4): a
// single-token bucket enforcing a minimum inter-request gap, promoted from
// the teacher's hand-rolled cmn.ThrottleMin/Avg/Max constants to the
// ecosystem's golang.org/x/time/rate primitive (§3b).
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultDelay is the default minimum inter-request gap (§4.4).
const DefaultDelay = time.Second

// Gate enforces a minimum gap between successive Wait calls.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate returns a Gate that allows at most one request per delay, with no
// burst beyond the first immediate request.
func NewGate(delay time.Duration) *Gate {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Gate{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next request is allowed to proceed, or ctx is
// canceled.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
