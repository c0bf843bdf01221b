// Package retry retries transient failures with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/keyword-harvester/internal/apierr"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is multiplied by Multiplier^n before attempt n (0-based).
	BaseDelay time.Duration
	// Multiplier is the exponential growth factor.
	Multiplier float64
	// JitterFraction adds uniform(0, JitterFraction*delay) on top of each delay.
	JitterFraction float64
	// MaxDelay caps the exponential part of the delay. Zero means uncapped.
	MaxDelay time.Duration
	// IsRetryable decides whether an error is transient. Defaults to apierr.Retryable.
	IsRetryable func(error) bool
	// OnRetry is called before sleeping ahead of a retry. Optional.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts starting at 500ms, doubling, with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2,
		JitterFraction: 0.1,
		MaxDelay:       30 * time.Second,
		IsRetryable:    apierr.Retryable,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.IsRetryable == nil {
		p.IsRetryable = apierr.Retryable
	}
	return p
}

// Backoff returns the wait before 0-based attempt n: BaseDelay*Multiplier^n plus jitter.
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay) + randomJitter(time.Duration(delay*p.JitterFraction))
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt+1, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry wait: %w", err)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
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

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
