// Package retry provides a bounded retry combinator with exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// ErrAttemptsExhausted is wrapped around the last error once the attempt cap is reached.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Pauser blocks between attempts. It must return early when ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauser sleeps on a timer.
type TimerPauser struct{}

// Pause waits for delay or until the context finishes.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ExponentialPolicy doubles the delay after every failed attempt, capped at MaxDelay.
type ExponentialPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Jitter is the fraction (0..1) of each delay that is randomized.
	Jitter    float64
	Retryable func(error) bool
	Pauser    Pauser
}

// NewExponentialPolicy builds a policy with the archive defaults: 10 attempts starting at 16s.
func NewExponentialPolicy(retryable func(error) bool) *ExponentialPolicy {
	return &ExponentialPolicy{
		MaxAttempts:  10,
		InitialDelay: 16 * time.Second,
		MaxDelay:     30 * time.Minute,
		Retryable:    retryable,
		Pauser:       TimerPauser{},
	}
}

// ShouldRetry decides whether another attempt is allowed after err on the given 1-based attempt.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Backoff returns the wait before attempt+1.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter <= 0 {
		return time.Duration(delay)
	}
	jitterSpan := time.Duration(delay * math.Min(p.Jitter, 1))
	return time.Duration(delay) - jitterSpan + randomJitter(jitterSpan)
}

// OnRetry is called before each pause with the failed attempt number, its error and the upcoming delay.
type OnRetry func(attempt int, err error, delay time.Duration)

// Do runs op until it succeeds, the policy refuses another attempt, or ctx is done.
// The returned int is the number of attempts made.
func Do[T any](ctx context.Context, p *ExponentialPolicy, onRetry OnRetry, op func(context.Context) (T, error)) (T, int, error) {
	var zero T
	pauser := p.Pauser
	if pauser == nil {
		pauser = TimerPauser{}
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, fmt.Errorf("retry canceled: %w", err)
		}
		result, err := op(ctx)
		if err == nil {
			return result, attempt, nil
		}
		if !p.ShouldRetry(err, attempt) {
			if attempt >= maxAttempts && p.isRetryable(err) {
				return zero, attempt, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
			}
			return zero, attempt, err
		}
		delay := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		pauser.Pause(ctx, delay)
	}
}

func (p *ExponentialPolicy) isRetryable(err error) bool {
	return p.Retryable == nil || p.Retryable(err)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
