// ABOUTME: Named reconnection backoff policy shared by both bus connections.
// ABOUTME: Linear bounded delay, attempt and total-duration caps, non-retryable errors.

package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"
)

// Policy errors.
var (
	ErrRetryExhausted = errors.New("retry exhausted")
	ErrNonRetryable   = errors.New("non-retryable error")
)

// BackoffPolicy decides whether and when to retry a failed connection.
type BackoffPolicy struct {
	MaxAttempts      int
	MaxTotalDuration time.Duration
	Step             time.Duration
	MaxDelay         time.Duration

	// NonRetryable reports errors that abandon retrying immediately.
	NonRetryable func(error) bool
}

// DefaultBackoff returns the standard policy: refused connections are not
// retried, at most 10 attempts within an hour, 100ms per attempt up to 3s.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:      10,
		MaxTotalDuration: time.Hour,
		Step:             100 * time.Millisecond,
		MaxDelay:         3 * time.Second,
		NonRetryable:     IsConnectionRefused,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.Step
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Next returns the delay before retrying after the given failed attempt, or
// an error wrapping ErrNonRetryable or ErrRetryExhausted when retrying should
// stop. elapsed is the time spent since the first failure.
func (p BackoffPolicy) Next(attempt int, elapsed time.Duration, err error) (time.Duration, error) {
	if err != nil && p.NonRetryable != nil && p.NonRetryable(err) {
		return 0, fmt.Errorf("%w: %v", ErrNonRetryable, err)
	}
	if p.MaxTotalDuration > 0 && elapsed > p.MaxTotalDuration {
		return 0, fmt.Errorf("%w: retried for %v", ErrRetryExhausted, elapsed.Round(time.Millisecond))
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, fmt.Errorf("%w: %d attempts", ErrRetryExhausted, attempt)
	}
	return p.Delay(attempt), nil
}

// Retry runs fn until it succeeds or the policy gives up. The last error
// from fn is wrapped into the returned error.
func (p BackoffPolicy) Retry(ctx context.Context, fn func() error) error {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		delay, stop := p.Next(attempt, time.Since(start), err)
		if stop != nil {
			return fmt.Errorf("%w (last error: %v)", stop, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// IsConnectionRefused reports whether err is a refused TCP connection.
func IsConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
