package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/apierr"
	"github.com/JakeFAU/keyword-harvester/internal/cache"
	"github.com/JakeFAU/keyword-harvester/internal/clock/system"
	"github.com/JakeFAU/keyword-harvester/internal/events"
	"github.com/JakeFAU/keyword-harvester/internal/hash/sha256"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
	"github.com/JakeFAU/keyword-harvester/internal/keyword/intent"
	"github.com/JakeFAU/keyword-harvester/internal/logging"
	"github.com/JakeFAU/keyword-harvester/internal/metrics"
	"github.com/JakeFAU/keyword-harvester/internal/policy/pipeline"
	"github.com/JakeFAU/keyword-harvester/internal/session"
)

// Cache operation names.
const (
	OpSuggestions  = "sugestoes"
	OpMetrics      = "metricas"
	OpMetricsBatch = "metricas_lote"
)

// Defaults applied by NewBase.
const (
	DefaultMaxTermLength = 100
	DefaultDiscoveryTTL  = 3600 * time.Second
	DefaultMetricsTTL    = 21600 * time.Second
)

// Source is the platform-specific half of a collector. Discover and Measure make
// their remote calls through the session, which runs each request through the
// source's policy pipeline; Base puts the cache in front of both.
type Source interface {
	ValidateSourceTerm(term string) bool
	// Discover returns candidate terms related to term, in discovery order.
	Discover(ctx context.Context, s *session.Session, term string) ([]string, error)
	// Measure returns engagement metrics for one term.
	Measure(ctx context.Context, s *session.Session, term string) (keyword.Metrics, error)
}

// Settings are the per-source knobs Base applies.
type Settings struct {
	MaxTermLength  int
	DiscoveryTTL   time.Duration
	MetricsTTL     time.Duration
	LongTailFilter bool
	ErrorLogSize   int
	// Config is copied into the collector state.
	Config map[string]any
}

// Deps are the collaborators Base composes. Nil fields get process defaults.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Cache      *cache.Layer
	Sessions   *session.Manager
	Events     events.Emitter
	Logger     *zap.Logger
	Clock      Clock
	Hasher     Hasher
	Classifier *intent.Classifier
}

// Base implements the Collector operations on top of a Source. Concrete collectors
// embed it and supply ValidateSourceTerm.
type Base struct {
	name     string
	src      Source
	deps     Deps
	settings Settings
	state    *state
	logger   *zap.Logger
}

// NewBase builds the shared half of a collector named name.
func NewBase(name string, src Source, deps Deps, settings Settings) *Base {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Pipeline == nil {
		// An empty SourceConfig always builds.
		deps.Pipeline, _ = pipeline.Build(name, pipeline.SourceConfig{}, nil, deps.Logger)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewLayer(name, cache.NewMemoryStore(), cache.Options{Logger: deps.Logger})
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(name, session.Config{Pipeline: deps.Pipeline}, deps.Logger)
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.Default()
	}
	if settings.MaxTermLength <= 0 {
		settings.MaxTermLength = DefaultMaxTermLength
	}
	if settings.DiscoveryTTL <= 0 {
		settings.DiscoveryTTL = DefaultDiscoveryTTL
	}
	if settings.MetricsTTL <= 0 {
		settings.MetricsTTL = DefaultMetricsTTL
	}
	return &Base{
		name:     name,
		src:      src,
		deps:     deps,
		settings: settings,
		state:    newState(name, settings.Config, settings.ErrorLogSize),
		logger:   logging.ForSource(deps.Logger, "collector", name),
	}
}

// Name returns the source identifier written to Keyword.Source.
func (b *Base) Name() string {
	return b.name
}

// Pipeline returns the policy chain guarding this collector's calls.
func (b *Base) Pipeline() *pipeline.Pipeline {
	return b.deps.Pipeline
}

// Cache returns the collector's cache layer.
func (b *Base) Cache() *cache.Layer {
	return b.deps.Cache
}

// Sessions returns the collector's session manager.
func (b *Base) Sessions() *session.Manager {
	return b.deps.Sessions
}

// Logger returns the collector's named logger.
func (b *Base) Logger() *zap.Logger {
	return b.logger
}

// State returns a copy of the collector's bookkeeping.
func (b *Base) State() StateSnapshot {
	return b.state.snapshot()
}

// Close releases the session.
func (b *Base) Close() error {
	b.deps.Sessions.Close()
	return nil
}

// ValidateTerm reports whether term is non-empty and within the length limit.
func (b *Base) ValidateTerm(term string) bool {
	term = keyword.Normalize(term)
	if term == "" {
		return false
	}
	return utf8.RuneCountInString(term) <= b.settings.MaxTermLength
}

func (b *Base) validate(op, term string) error {
	if !b.ValidateTerm(term) {
		return apierr.Validation(b.name, op, "term is empty or longer than max_term_length")
	}
	if !b.src.ValidateSourceTerm(keyword.Normalize(term)) {
		return apierr.Validation(b.name, op, "term violates source rules")
	}
	return nil
}

// Protected returns the cached value for op and key, or runs call and caches the
// result. A hit never reaches the limiter or the breaker; on a miss every request
// call makes through the session is guarded on its own.
func Protected[T any](ctx context.Context, b *Base, op, key string, ttl time.Duration, call func(context.Context) (T, error)) (T, cache.Outcome, error) {
	return cache.Fetch(ctx, b.deps.Cache, op, key, ttl, call)
}

// RecordError stores a structured error record in the bounded error log and
// emits it.
func (b *Base) RecordError(event, term string, err error, details map[string]any) {
	if details == nil {
		details = make(map[string]any, 2)
	}
	details["term"] = term
	if kind := apierr.KindOf(err); kind != "" {
		details["error_kind"] = string(kind)
	}
	rec := events.NewRecord(event, events.StatusError, b.name, err.Error(), details)
	rec.Timestamp = b.deps.Clock.Now()
	b.state.recordError(rec)
	b.deps.Events.Emit(rec)
	b.logger.Warn("collector operation failed",
		zap.String("event", event),
		zap.String("term", term),
		zap.Error(err),
	)
}

func (b *Base) recordSuccess(event string, collected int, details map[string]any) {
	now := b.deps.Clock.Now()
	b.state.recordBatch(now, collected)
	rec := events.NewRecord(event, events.StatusSuccess, b.name, "", details)
	rec.Timestamp = now
	b.deps.Events.Emit(rec)
}

// CollectKeywords validates term, discovers candidates, measures each one and
// returns the accepted keywords. It never fails: errors are recorded and an
// empty or partial list is returned.
func (b *Base) CollectKeywords(ctx context.Context, term string, limit int) []keyword.Keyword {
	start := time.Now()
	seed := keyword.Normalize(term)
	out := []keyword.Keyword{}

	if err := b.validate(events.EventCollectKeywords, term); err != nil {
		b.RecordError(events.EventCollectKeywords, seed, err, nil)
		return out
	}
	if limit <= 0 {
		return out
	}

	var (
		discovered int
		filtered   int
		outcome    cache.Outcome
		healthy    bool
	)
	err := b.deps.Sessions.Use(ctx, func(ctx context.Context, s *session.Session) error {
		candidates, oc, err := Protected(ctx, b, OpSuggestions, seed, b.settings.DiscoveryTTL,
			func(ctx context.Context) ([]string, error) {
				return b.src.Discover(ctx, s, seed)
			})
		outcome = oc
		if err != nil {
			b.RecordError(events.EventCollectKeywords, seed, err, map[string]any{"cache": string(oc)})
			if len(candidates) == 0 {
				return nil
			}
		}
		healthy = err == nil || oc == cache.OutcomeStale

		candidates = DedupeCap(candidates, seed, limit)
		discovered = len(candidates)
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, moc := b.measure(ctx, s, c)
			kw := keyword.New(c, b.name, m, b.deps.Classifier.Classify(c), map[string]any{
				"intencao_fonte": intent.Source,
				"termo_semente":  seed,
				"cache":          string(moc),
			})
			if b.settings.LongTailFilter && !keyword.IsLongTail(kw.Term, kw.Competition) {
				filtered++
				continue
			}
			out = append(out, kw)
		}
		return nil
	})
	if err != nil {
		b.RecordError(events.EventCollectKeywords, seed, err, map[string]any{"returned": len(out)})
		return out
	}
	if !healthy {
		return out
	}

	metrics.AddKeywords(b.name, len(out))
	b.recordSuccess(events.EventCollectKeywords, len(out), map[string]any{
		"term":        seed,
		"limit":       limit,
		"candidates":  discovered,
		"filtered":    filtered,
		"returned":    len(out),
		"cache":       string(outcome),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return out
}

// measure fetches metrics for one term, falling back to floor values.
func (b *Base) measure(ctx context.Context, s *session.Session, term string) (keyword.Metrics, cache.Outcome) {
	m, oc, err := Protected(ctx, b, OpMetrics, term, b.settings.MetricsTTL,
		func(ctx context.Context) (keyword.Metrics, error) {
			return b.src.Measure(ctx, s, term)
		})
	if err != nil {
		b.RecordError(events.EventCollectMetrics, term, err, map[string]any{"cache": string(oc)})
		if oc != cache.OutcomeStale {
			m = keyword.ZeroMetrics(term, b.name)
		}
	}
	m.Term = term
	m.Source = b.name
	m.Competition = keyword.ClampCompetition(m.Competition)
	return m, oc
}

// CollectMetrics measures each term, in input order. Whole batches are cached
// under a digest of the ordered term list; a batch with any failed term is not
// cached and failed terms carry floor values.
func (b *Base) CollectMetrics(ctx context.Context, terms []string) []keyword.Metrics {
	out := make([]keyword.Metrics, len(terms))
	norm := make([]string, len(terms))
	for i, t := range terms {
		norm[i] = keyword.Normalize(t)
		out[i] = keyword.ZeroMetrics(norm[i], b.name)
	}
	if len(terms) == 0 {
		return out
	}

	digest, err := b.deps.Hasher.Hash([]byte(strings.Join(norm, "\n")))
	if err != nil {
		b.RecordError(events.EventCollectMetrics, "", err, nil)
		return out
	}

	var partial []keyword.Metrics
	batch, _, err := cache.Fetch(ctx, b.deps.Cache, OpMetricsBatch, digest, b.settings.MetricsTTL,
		func(ctx context.Context) ([]keyword.Metrics, error) {
			res := make([]keyword.Metrics, len(norm))
			var errs []error
			useErr := b.deps.Sessions.Use(ctx, func(ctx context.Context, s *session.Session) error {
				for i, t := range norm {
					if err := b.validate(events.EventCollectMetrics, t); err != nil {
						b.RecordError(events.EventCollectMetrics, t, err, nil)
						res[i] = keyword.ZeroMetrics(t, b.name)
						errs = append(errs, err)
						continue
					}
					if err := ctx.Err(); err != nil {
						return err
					}
					m, oc := b.measure(ctx, s, t)
					if oc == cache.OutcomeDefault || oc == cache.OutcomeStale {
						errs = append(errs, fmt.Errorf("metrics unavailable for %q", t))
					}
					res[i] = m
				}
				return nil
			})
			if useErr != nil {
				errs = append(errs, useErr)
			}
			if len(errs) > 0 {
				partial = res
				return nil, errors.Join(errs...)
			}
			return res, nil
		})
	switch {
	case err == nil && len(batch) == len(out):
		b.recordSuccess(events.EventCollectMetrics, 0, map[string]any{"terms": len(terms)})
		return batch
	case partial != nil:
		for i, m := range partial {
			if m.Term != "" {
				out[i] = m
			}
		}
	case len(batch) == len(out):
		out = batch
	}
	if err != nil && errors.Is(err, context.Canceled) {
		b.RecordError(events.EventCollectMetrics, "", err, map[string]any{"terms": len(terms)})
	}
	return out
}

// ClassifyIntent labels each term with its search intent, in input order.
func (b *Base) ClassifyIntent(_ context.Context, terms []string) []keyword.Intent {
	out := b.deps.Classifier.ClassifyAll(terms)
	b.deps.Events.Emit(events.NewRecord(events.EventClassifyIntent, events.StatusSuccess, b.name, "",
		map[string]any{"terms": len(terms)}))
	return out
}
