package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/keyword-harvester/internal/metrics"
)

// Fallback selects what a failed load returns.
type Fallback string

const (
	// FallbackLastCached returns the last value ever cached for the key, if any.
	FallbackLastCached Fallback = "last_cached"
	// FallbackZero returns the zero value.
	FallbackZero Fallback = "zero"
)

// ParseFallback validates a configured fallback name.
func ParseFallback(s string) (Fallback, error) {
	switch Fallback(strings.ToLower(strings.TrimSpace(s))) {
	case FallbackLastCached:
		return FallbackLastCached, nil
	case FallbackZero, "":
		return FallbackZero, nil
	default:
		return "", fmt.Errorf("unknown cache fallback %q", s)
	}
}

// Outcome describes where a value came from.
type Outcome string

// Outcomes reported by Fetch.
const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomeStale   Outcome = "stale"
	OutcomeDefault Outcome = "default"
)

const (
	defaultStaleTTL    = 7 * 24 * time.Hour
	defaultLoadTimeout = 2 * time.Minute
)

// Options configures a Layer.
type Options struct {
	Fallback Fallback
	// StaleTTL is how long the copy used by FallbackLastCached outlives the fresh entry.
	StaleTTL time.Duration
	// LoadTimeout bounds a shared load. Loads outlive the caller that started them.
	LoadTimeout time.Duration
	Logger      *zap.Logger
}

// Layer is a cache-aside view of a Store, namespaced to one source.
type Layer struct {
	source      string
	store       Store
	fallback    Fallback
	staleTTL    time.Duration
	loadTimeout time.Duration
	logger      *zap.Logger
	group       singleflight.Group
}

// NewLayer creates a layer for source on top of store.
func NewLayer(source string, store Store, opts Options) *Layer {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Fallback == "" {
		opts.Fallback = FallbackZero
	}
	if opts.StaleTTL <= 0 {
		opts.StaleTTL = defaultStaleTTL
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Layer{
		source:      source,
		store:       store,
		fallback:    opts.Fallback,
		staleTTL:    opts.StaleTTL,
		loadTimeout: opts.LoadTimeout,
		logger:      opts.Logger,
	}
}

// Source returns the namespace of the layer.
func (l *Layer) Source() string {
	return l.source
}

// Fallback returns the configured fallback policy.
func (l *Layer) Fallback() Fallback {
	return l.fallback
}

// Key returns the namespaced key for op and term.
func (l *Layer) Key(op, term string) string {
	return l.source + ":" + op + ":" + term
}

func (l *Layer) staleKey(op, term string) string {
	return l.Key(op, term) + ":stale"
}

// Put writes value under op and term, refreshing the last-cached copy as well.
func (l *Layer) Put(ctx context.Context, op, term string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", l.Key(op, term), err)
	}
	return l.write(ctx, op, term, raw, ttl)
}

func (l *Layer) write(ctx context.Context, op, term string, raw []byte, ttl time.Duration) error {
	if err := l.store.Set(ctx, l.Key(op, term), raw, ttl); err != nil {
		return err
	}
	staleTTL := l.staleTTL
	if ttl > staleTTL {
		staleTTL = ttl
	}
	return l.store.Set(ctx, l.staleKey(op, term), raw, staleTTL)
}

// read returns the raw value; store failures degrade to a miss.
func (l *Layer) read(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return raw, ok
}

// Fetch returns the cached value for op and term, or calls load on a miss and
// caches its result for ttl. Concurrent misses for the same key share one load,
// which runs detached from any single caller and is bounded by the layer's load
// timeout. Each caller waits only as long as its own context allows.
// When the load fails the layer's fallback decides the returned value, and the
// error is returned alongside it. A canceled caller gets no fallback.
func Fetch[T any](ctx context.Context, l *Layer, op, term string, ttl time.Duration, load func(context.Context) (T, error)) (T, Outcome, error) {
	var zero T
	key := l.Key(op, term)

	if raw, ok := l.read(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			metrics.ObserveCacheLookup(l.source, op, string(OutcomeHit))
			return v, OutcomeHit, nil
		}
		l.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	}
	if err := ctx.Err(); err != nil {
		metrics.ObserveCacheLookup(l.source, op, string(OutcomeDefault))
		return zero, OutcomeDefault, err
	}

	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(detached, l.loadTimeout)
		defer cancel()
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if err := l.write(detached, op, term, raw, ttl); err != nil {
			l.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return raw, nil
	})

	var err error
	select {
	case res := <-ch:
		err = res.Err
		if err == nil {
			var v T
			if derr := json.Unmarshal(res.Val.([]byte), &v); derr != nil {
				return zero, OutcomeDefault, fmt.Errorf("decode %s: %w", key, derr)
			}
			metrics.ObserveCacheLookup(l.source, op, string(OutcomeMiss))
			return v, OutcomeMiss, nil
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	if l.fallback == FallbackLastCached && !errors.Is(ctx.Err(), context.Canceled) {
		if raw, ok := l.read(detached, l.staleKey(op, term)); ok {
			var v T
			if json.Unmarshal(raw, &v) == nil {
				metrics.ObserveCacheLookup(l.source, op, string(OutcomeStale))
				return v, OutcomeStale, err
			}
		}
	}
	metrics.ObserveCacheLookup(l.source, op, string(OutcomeDefault))
	return zero, OutcomeDefault, err
}
