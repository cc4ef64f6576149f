package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// RetryPolicy controls how transient node failures are re-attempted.
// Only errors carrying the TRANSIENT_IO code qualify; everything else
// fails on the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Jitter      float64
}

// DefaultRetryPolicy is 3 attempts with 0.5s exponential backoff and
// 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
	}
}

// Retryable reports whether err qualifies for another attempt. Cancellation
// never does: a cancelled run is shutting down, not flaking.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var eng *schema.EngineError
	if errors.As(err, &eng) {
		return eng.Transient()
	}
	return false
}

// Backoff returns the delay before the given retry attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Factor
	}
	if p.Jitter > 0 {
		// Spread in [1-jitter, 1+jitter] to avoid synchronized retries.
		delay *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(delay)
}

// WaitForBackoff sleeps for delay or returns early when ctx is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
