// Package resilience provides the transient/permanent error classification
// and bounded-retry-with-backoff primitives shared by the Fetcher and
// Mailer. It is adapted from the teacher's email/resilience.go
// ErrorClassifier/RetryPolicy pair, generalized from SMTP-specific string
// patterns to a pluggable classifier per caller.
package resilience

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Classification is the outcome of inspecting one error.
type Classification int

const (
	Permanent Classification = iota
	Transient
)

// Classifier decides whether a given error should be retried.
type Classifier func(error) Classification

// Policy bounds a retry loop with exponential backoff and jitter.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Do runs fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts, stopping early when classify marks an error Permanent.
// It returns the last error encountered, or nil on success.
func (p Policy) Do(ctx context.Context, classify Classifier, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if classify(err) == Permanent {
			return err
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-2)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d + jitter(d)
}

func jitter(d time.Duration) time.Duration {
	max := int64(d) / 4
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
