package collector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/cache"
	"github.com/JakeFAU/keyword-harvester/internal/config"
	"github.com/JakeFAU/keyword-harvester/internal/events"
	"github.com/JakeFAU/keyword-harvester/internal/logging"
	"github.com/JakeFAU/keyword-harvester/internal/policy/breaker"
	"github.com/JakeFAU/keyword-harvester/internal/policy/pipeline"
	"github.com/JakeFAU/keyword-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/keyword-harvester/internal/policy/retry"
	"github.com/JakeFAU/keyword-harvester/internal/session"
)

// ErrUnknownSource is returned for a source name with no registered factory.
var ErrUnknownSource = errors.New("unknown collector source")

// Env carries what a factory needs to build one collector instance.
type Env struct {
	Name   string
	Source config.SourceConfig
	HTTP   config.HTTPConfig
	// Pipelines is shared process-wide so every instance of a source shares one
	// limiter and one breaker.
	Pipelines  *pipeline.Registry
	CacheStore cache.Store
	Events     events.Emitter
	Logger     *zap.Logger
	Clock      Clock
	Hasher     Hasher
}

// Factory builds a collector instance.
type Factory func(env Env) (Collector, error)

// Registry maps source names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("collector %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds a collector for env.Name.
func (r *Registry) New(env Env) (Collector, error) {
	r.mu.RLock()
	f, ok := r.factories[env.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, env.Name)
	}
	c, err := f(env)
	if err != nil {
		return nil, fmt.Errorf("build %s collector: %w", env.Name, err)
	}
	return c, nil
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PolicyConfig converts a source block into pipeline settings.
func PolicyConfig(sc config.SourceConfig) pipeline.SourceConfig {
	return pipeline.SourceConfig{
		RateLimit: ratelimit.Config{
			Strategy: sc.Limiter,
			Limit:    sc.RateLimit,
			Window:   sc.RateWindow,
		},
		Breaker: breaker.Config{
			FailureThreshold: sc.FailureThreshold,
			ResetTimeout:     sc.ResetTimeout,
		},
		Retry: retry.Policy{
			MaxAttempts:    sc.Retry.MaxAttempts,
			BaseDelay:      sc.Retry.BaseDelay,
			Multiplier:     sc.Retry.Multiplier,
			JitterFraction: sc.Retry.JitterFraction,
			MaxDelay:       sc.Retry.MaxDelay,
		},
		Timeout: sc.RequestTimeout,
	}
}

// BuildBase assembles the shared half of a collector from env. authValue is sent
// in the Authorization header when non-empty.
func BuildBase(env Env, src Source, authValue string) (*Base, error) {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pipes := env.Pipelines
	if pipes == nil {
		pipes = pipeline.NewRegistry(nil, logger)
	}
	pipes.Configure(env.Name, PolicyConfig(env.Source))
	p, err := pipes.For(env.Name)
	if err != nil {
		return nil, err
	}

	fallback, err := cache.ParseFallback(env.Source.Fallback)
	if err != nil {
		return nil, err
	}
	store := env.CacheStore
	if store == nil {
		store = cache.NewMemoryStore()
	}
	layer := cache.NewLayer(env.Name, store, cache.Options{Fallback: fallback, Logger: logger})

	sessions := session.NewManager(env.Name, session.Config{
		BaseURL:        env.Source.BaseURL,
		UserAgent:      env.HTTP.UserAgent,
		AcceptLanguage: env.HTTP.AcceptLanguage,
		AuthValue:      authValue,
		Timeout:        env.HTTP.Timeout,
		Pipeline:       p,
	}, logging.ForSource(logger, "session", env.Name))

	cfg := make(map[string]any, len(env.Source.Options)+4)
	for k, v := range env.Source.Options {
		cfg[k] = v
	}
	cfg["base_url"] = env.Source.BaseURL
	cfg["rate_limit"] = env.Source.RateLimit
	cfg["fallback"] = string(fallback)
	cfg["long_tail_filter"] = env.Source.LongTailFilter

	return NewBase(env.Name, src, Deps{
		Pipeline: p,
		Cache:    layer,
		Sessions: sessions,
		Events:   env.Events,
		Logger:   logger,
		Clock:    env.Clock,
		Hasher:   env.Hasher,
	}, Settings{
		MaxTermLength:  env.Source.MaxTermLength,
		DiscoveryTTL:   env.Source.TTL.Discovery,
		MetricsTTL:     env.Source.TTL.Metrics,
		LongTailFilter: env.Source.LongTailFilter,
		Config:         cfg,
	}), nil
}
