// Package pipeline composes the resilience policies guarding a remote call into an
// explicit, ordered chain that is built once per source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/apierr"
	"github.com/JakeFAU/keyword-harvester/internal/metrics"
	"github.com/JakeFAU/keyword-harvester/internal/policy/breaker"
	"github.com/JakeFAU/keyword-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/keyword-harvester/internal/policy/retry"
)

// Call is one remote operation.
type Call func(ctx context.Context) error

// Stage is one policy in the chain. Wrap returns a Call that applies the policy
// around next.
type Stage interface {
	Name() string
	Wrap(next Call) Call
}

// Pipeline applies its stages outermost first.
type Pipeline struct {
	source  string
	stages  []Stage
	breaker *breaker.Breaker
}

// New composes stages in the order given.
func New(source string, stages ...Stage) *Pipeline {
	p := &Pipeline{source: source, stages: append([]Stage(nil), stages...)}
	for _, s := range stages {
		if bs, ok := s.(*BreakerStage); ok {
			p.breaker = bs.breaker
		}
	}
	return p
}

// Source returns the source the pipeline protects.
func (p *Pipeline) Source() string {
	return p.source
}

// Stages returns the stage names, outermost first.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Breaker returns the circuit breaker in the chain, or nil.
func (p *Pipeline) Breaker() *breaker.Breaker {
	return p.breaker
}

// Do runs call through every stage.
func (p *Pipeline) Do(ctx context.Context, call Call) error {
	wrapped := call
	for i := len(p.stages) - 1; i >= 0; i-- {
		wrapped = p.stages[i].Wrap(wrapped)
	}
	err := wrapped(ctx)
	switch {
	case err == nil:
		metrics.ObserveProtectedCall(p.source, "ok")
	case errors.Is(err, breaker.ErrOpen):
		metrics.ObserveProtectedCall(p.source, "rejected")
	default:
		metrics.ObserveProtectedCall(p.source, "error")
	}
	return err
}

// Run executes fn through the pipeline and returns its value.
func Run[T any](ctx context.Context, p *Pipeline, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// RateLimitStage waits for a request slot before the call.
type RateLimitStage struct {
	limiter ratelimit.Limiter
}

// RateLimit returns a stage backed by limiter.
func RateLimit(limiter ratelimit.Limiter) *RateLimitStage {
	return &RateLimitStage{limiter: limiter}
}

// Name implements Stage.
func (s *RateLimitStage) Name() string { return "rate_limit" }

// Wrap implements Stage.
func (s *RateLimitStage) Wrap(next Call) Call {
	return func(ctx context.Context) error {
		if err := s.limiter.Acquire(ctx); err != nil {
			return err
		}
		return next(ctx)
	}
}

// BreakerStage fails fast while the source's circuit is open.
type BreakerStage struct {
	breaker *breaker.Breaker
}

// Breaker returns a stage backed by b.
func Breaker(b *breaker.Breaker) *BreakerStage {
	return &BreakerStage{breaker: b}
}

// Name implements Stage.
func (s *BreakerStage) Name() string { return "circuit_breaker" }

// Wrap implements Stage.
func (s *BreakerStage) Wrap(next Call) Call {
	return func(ctx context.Context) error {
		return s.breaker.Execute(ctx, next)
	}
}

// RetryStage retries transient failures of the inner stages.
type RetryStage struct {
	policy retry.Policy
}

// Retry returns a stage applying policy.
func Retry(policy retry.Policy) *RetryStage {
	return &RetryStage{policy: policy}
}

// Name implements Stage.
func (s *RetryStage) Name() string { return "retry" }

// Wrap implements Stage.
func (s *RetryStage) Wrap(next Call) Call {
	return func(ctx context.Context) error {
		return s.policy.Do(ctx, next)
	}
}

// TimeoutStage bounds each attempt. An attempt that outlives its own deadline while
// the caller is still waiting becomes a transient failure.
type TimeoutStage struct {
	source  string
	timeout time.Duration
}

// Timeout returns a stage bounding each attempt by d.
func Timeout(source string, d time.Duration) *TimeoutStage {
	return &TimeoutStage{source: source, timeout: d}
}

// Name implements Stage.
func (s *TimeoutStage) Name() string { return "timeout" }

// Wrap implements Stage.
func (s *TimeoutStage) Wrap(next Call) Call {
	return func(ctx context.Context) error {
		if s.timeout <= 0 {
			return next(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		err := next(attemptCtx)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
			apierr.KindOf(err) == "" {
			return apierr.New(apierr.KindTransient, s.source, "timeout",
				fmt.Errorf("attempt exceeded %v: %w", s.timeout, err))
		}
		return err
	}
}

// SourceConfig describes the policies for one source.
type SourceConfig struct {
	RateLimit ratelimit.Config
	Breaker   breaker.Config
	Retry     retry.Policy
	Timeout   time.Duration
}

// Build composes the standard chain: rate limit, breaker, retry, timeout.
// The breaker counts every classified failure except validation and cancellation.
func Build(source string, cfg SourceConfig, store breaker.Store, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter, err := ratelimit.New(source, cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("build %s pipeline: %w", source, err)
	}

	bcfg := cfg.Breaker
	if bcfg.IsFailure == nil {
		bcfg.IsFailure = apierr.CountsAsFailure
	}
	if bcfg.Logger == nil {
		bcfg.Logger = logger
	}

	policy := cfg.Retry
	if policy.IsRetryable == nil {
		policy.IsRetryable = apierr.Retryable
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.IncRetries(source)
		logger.Debug("retrying call",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	return New(source,
		RateLimit(limiter),
		Breaker(breaker.New(source, bcfg, store)),
		Retry(policy),
		Timeout(source, cfg.Timeout),
	), nil
}
