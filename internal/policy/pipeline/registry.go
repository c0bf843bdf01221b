package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/logging"
	"github.com/JakeFAU/keyword-harvester/internal/policy/breaker"
)

// Registry hands out one pipeline per source so every collector instance targeting
// a source shares its limiter and breaker.
type Registry struct {
	store  breaker.Store
	logger *zap.Logger

	mu        sync.Mutex
	configs   map[string]SourceConfig
	pipelines map[string]*Pipeline
}

// NewRegistry creates a registry whose breakers persist state in store.
func NewRegistry(store breaker.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = breaker.NewMemoryStore()
	}
	return &Registry{
		store:     store,
		logger:    logger,
		configs:   make(map[string]SourceConfig),
		pipelines: make(map[string]*Pipeline),
	}
}

// Configure sets the policies for source. It has no effect once the source's
// pipeline has been built.
func (r *Registry) Configure(source string, cfg SourceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[source] = cfg
}

// For returns the shared pipeline for source, building it on first use.
func (r *Registry) For(source string) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pipelines[source]; ok {
		return p, nil
	}
	p, err := Build(source, r.configs[source], r.store, logging.ForSource(r.logger, "pipeline", source))
	if err != nil {
		return nil, fmt.Errorf("pipeline for %s: %w", source, err)
	}
	r.pipelines[source] = p
	return p, nil
}
