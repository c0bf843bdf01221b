// Package ratelimit bounds the outbound request rate for one external source.
// Limiters never reject a request; they only delay it until it fits the budget.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/keyword-harvester/internal/metrics"
)

// Strategy names accepted in configuration.
const (
	StrategySlidingWindow = "sliding_window"
	StrategyTokenBucket   = "token_bucket"
)

const (
	defaultLimit  = 50
	defaultWindow = time.Second
)

// Limiter delays callers until a request slot is available.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config holds rate limiter configuration for one source.
type Config struct {
	Strategy string
	Limit    int
	Window   time.Duration
}

// New builds the limiter selected by cfg.Strategy. An empty strategy means sliding window.
func New(source string, cfg Config) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", StrategySlidingWindow:
		return NewSlidingWindow(source, cfg.Limit, cfg.Window), nil
	case StrategyTokenBucket:
		return NewTokenBucket(source, cfg.Limit, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// SlidingWindow admits at most limit requests in any trailing window.
type SlidingWindow struct {
	source string
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time
	now    func() time.Time
}

// NewSlidingWindow creates a SlidingWindow limiter. Non-positive values fall back to 50 per second.
func NewSlidingWindow(source string, limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &SlidingWindow{
		source: source,
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Acquire records a request timestamp, first waiting until the oldest recorded request
// leaves the window whenever the window is full.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	start := l.now()
	for {
		wait, ok := l.tryRecord()
		if ok {
			if waited := l.now().Sub(start); waited > time.Millisecond {
				metrics.ObserveRateLimitDelay(l.source, waited)
			}
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
}

// tryRecord prunes expired timestamps and records now when the window has room,
// otherwise it returns how long until the oldest timestamp expires.
func (l *SlidingWindow) tryRecord() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0, true
	}
	wait := l.window - now.Sub(l.stamps[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *SlidingWindow) prune(now time.Time) {
	cut := 0
	for cut < len(l.stamps) && now.Sub(l.stamps[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[cut:]...)
	}
}

// InWindow returns how many requests are currently recorded in the trailing window.
func (l *SlidingWindow) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// TokenBucket smooths requests with golang.org/x/time/rate, allowing bursts of limit.
type TokenBucket struct {
	source  string
	limiter *rate.Limiter
}

// NewTokenBucket creates a TokenBucket refilling limit tokens per window.
func NewTokenBucket(source string, limit int, window time.Duration) *TokenBucket {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	every := rate.Every(window / time.Duration(limit))
	return &TokenBucket{
		source:  source,
		limiter: rate.NewLimiter(every, limit),
	}
}

// Acquire blocks until a token is available, respecting the context.
func (l *TokenBucket) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.source, waited)
	}
	return nil
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
