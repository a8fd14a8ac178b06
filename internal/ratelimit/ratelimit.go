// Package ratelimit throttles outbound SMTP sends. It is the teacher's
// internal/ratelimit/ratelimit.go carried over unchanged in shape: a thin
// wrapper around golang.org/x/time/rate that the teacher already depends on
// for email sending, repurposed here for the Mailer's per-run delivery loop.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles a stream of outbound sends to a maximum rate with burst
// tolerance.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter. sendsPerSecond <= 0 means unlimited.
func New(sendsPerSecond int, burst int) *Limiter {
	if sendsPerSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = sendsPerSecond
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), burst)}
}

// Wait blocks until the limiter permits one send, or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
