package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// RetryPolicy mirrors the teacher's retry.Config shape: max attempts, an
// exponential backoff with multiplier and jitter, and a retryable
// predicate. Permission, validation, and quota failures must never be
// made retryable by the predicate passed here.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64 // fraction, e.g. 0.2 = ±20%
	Retryable   func(error) bool
}

// DefaultRetryPolicy matches spec.md §4.1: attempts=3, base=1s, mult=2,
// jitter=±20%, retryable iff the error's Kind is marked retryable.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		Retryable:   orcherr.Retryable,
	}
}

// Result reports how a retried operation concluded.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

// Do runs op, retrying per policy until it succeeds, a non-retryable
// error is returned, attempts are exhausted, or ctx is cancelled.
func Do(ctx context.Context, policy RetryPolicy, op func(context.Context) error) Result {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts(policy); attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1, Err: err, Duration: time.Since(start)}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return Result{Attempts: attempt, Duration: time.Since(start)}
		}
		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return Result{Attempts: attempt, Err: lastErr, Duration: time.Since(start)}
		}
		if attempt == maxAttempts(policy) {
			break
		}
		delay := Backoff(policy, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Attempts: attempt, Err: ctx.Err(), Duration: time.Since(start)}
		case <-timer.C:
		}
	}
	return Result{Attempts: maxAttempts(policy), Err: lastErr, Duration: time.Since(start)}
}

func maxAttempts(p RetryPolicy) int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff computes the delay before the given attempt number (1-based,
// the delay preceding the *next* attempt) using exponential growth with
// jitter, matching the teacher's BackoffWithJitter shape.
func Backoff(p RetryPolicy, attempt int) time.Duration {
	base := float64(p.BaseDelay)
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if p.Jitter > 0 {
		j := d * p.Jitter
		d = d - j + rand.Float64()*2*j
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
