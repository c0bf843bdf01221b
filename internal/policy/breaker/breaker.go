// Package breaker provides a three-state circuit breaker guarding one external source.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/metrics"
)

// ErrOpen is returned without invoking the protected call while the circuit is open,
// or while the single half-open trial is still in flight.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen fails fast until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Snapshot is the persisted breaker state for one source.
type Snapshot struct {
	State        State
	FailureCount int
	OpenedAt     time.Time
}

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before the half-open trial.
	ResetTimeout time.Duration
	// IsFailure decides whether a call error counts against the breaker. Defaults to err != nil.
	IsFailure func(error) bool
	// OnStateChange is an optional callback when state changes.
	OnStateChange func(name string, from, to State)
	// Logger receives store errors. Optional.
	Logger *zap.Logger
}

// DefaultConfig returns a default circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern over a Store.
type Breaker struct {
	name  string
	cfg   Config
	store Store

	mu            sync.Mutex
	local         Snapshot
	trialInFlight bool
	now           func() time.Time
}

// New creates a breaker named after the source it protects. A nil store keeps state in process.
func New(name string, cfg Config, store Store) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Name returns the source this breaker protects.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn under breaker protection.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.beforeCall(ctx)
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	b.afterCall(context.WithoutCancel(ctx), trial, callErr)
	return callErr
}

func (b *Breaker) beforeCall(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.load(ctx)
	switch snap.State {
	case StateOpen:
		elapsed := b.now().Sub(snap.OpenedAt)
		if elapsed < b.cfg.ResetTimeout {
			return false, fmt.Errorf("%w: %s retries in %v", ErrOpen, b.name, b.cfg.ResetTimeout-elapsed)
		}
		if !b.claimTrial(ctx) {
			return false, fmt.Errorf("%w: %s trial call in flight", ErrOpen, b.name)
		}
		snap = b.transition(snap, StateHalfOpen)
		b.save(ctx, snap)
		return true, nil
	case StateHalfOpen:
		if !b.claimTrial(ctx) {
			return false, fmt.Errorf("%w: %s trial call in flight", ErrOpen, b.name)
		}
		return true, nil
	default:
		return false, nil
	}
}

// claimTrial admits the single half-open trial. Stores that coordinate trials
// decide across instances; if the store fails the local flag decides alone.
func (b *Breaker) claimTrial(ctx context.Context) bool {
	if b.trialInFlight {
		return false
	}
	if ts, ok := b.store.(TrialStore); ok {
		claimed, err := ts.ClaimTrial(ctx, b.name, b.cfg.ResetTimeout)
		if err != nil {
			b.cfg.Logger.Warn("breaker trial claim failed", zap.String("source", b.name), zap.Error(err))
		} else if !claimed {
			return false
		}
	}
	b.trialInFlight = true
	return true
}

func (b *Breaker) releaseTrial(ctx context.Context) {
	b.trialInFlight = false
	if ts, ok := b.store.(TrialStore); ok {
		if err := ts.ReleaseTrial(ctx, b.name); err != nil {
			b.cfg.Logger.Warn("breaker trial release failed", zap.String("source", b.name), zap.Error(err))
		}
	}
}

func (b *Breaker) afterCall(ctx context.Context, trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.releaseTrial(ctx)
	}
	snap := b.load(ctx)
	switch {
	case err == nil:
		snap.FailureCount = 0
		if snap.State == StateHalfOpen {
			snap = b.transition(snap, StateClosed)
		}
	case b.cfg.IsFailure(err):
		snap.FailureCount++
		switch snap.State {
		case StateClosed:
			if snap.FailureCount >= b.cfg.FailureThreshold {
				snap = b.transition(snap, StateOpen)
				snap.OpenedAt = b.now()
			}
		case StateHalfOpen:
			snap = b.transition(snap, StateOpen)
			snap.OpenedAt = b.now()
		case StateOpen:
			// A call admitted before the circuit opened; only the count moves.
		}
	default:
		// Not the downstream's fault: leave the state alone.
		return
	}
	b.save(ctx, snap)
}

func (b *Breaker) transition(snap Snapshot, to State) Snapshot {
	from := snap.State
	if from == to {
		return snap
	}
	snap.State = to
	if to == StateClosed {
		snap.FailureCount = 0
		snap.OpenedAt = time.Time{}
	}
	metrics.ObserveBreakerTransition(b.name, from.String(), to.String())
	metrics.SetBreakerState(b.name, int(to))
	b.cfg.Logger.Info("circuit breaker state change",
		zap.String("source", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
	return snap
}

// load reads shared state, falling back to the last known local copy if the store fails.
func (b *Breaker) load(ctx context.Context) Snapshot {
	snap, err := b.store.Load(ctx, b.name)
	if err != nil {
		b.cfg.Logger.Warn("breaker state load failed", zap.String("source", b.name), zap.Error(err))
		return b.local
	}
	b.local = snap
	return snap
}

func (b *Breaker) save(ctx context.Context, snap Snapshot) {
	b.local = snap
	if err := b.store.Save(ctx, b.name, snap); err != nil {
		b.cfg.Logger.Warn("breaker state save failed", zap.String("source", b.name), zap.Error(err))
	}
}

// Snapshot returns the current state, including an open circuit whose timeout has
// elapsed but which has not yet admitted its trial call.
func (b *Breaker) Snapshot(ctx context.Context) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx)
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State(ctx context.Context) State {
	return b.Snapshot(ctx).State
}

// Reset forces the circuit closed.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.transition(b.load(ctx), StateClosed)
	snap.FailureCount = 0
	b.releaseTrial(ctx)
	b.save(ctx, snap)
}
