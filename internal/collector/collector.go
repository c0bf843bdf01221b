// Package collector defines the contract every platform collector implements and
// the shared machinery (validation, protected and cached fetching, structured
// error recording) that concrete collectors build on.
package collector

import (
	"context"
	"time"

	"github.com/JakeFAU/keyword-harvester/internal/events"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
)

// Collector turns one platform's content into keyword candidates. None of its
// operations return an error: failures are recorded in State and emitted as
// events, and the caller receives an empty or partial result.
type Collector interface {
	Name() string
	// CollectKeywords returns at most limit distinct candidates related to term,
	// in discovery order, never including term itself.
	CollectKeywords(ctx context.Context, term string, limit int) []keyword.Keyword
	// CollectMetrics returns one Metrics per term, in input order.
	CollectMetrics(ctx context.Context, terms []string) []keyword.Metrics
	// ClassifyIntent returns one Intent per term, in input order.
	ClassifyIntent(ctx context.Context, terms []string) []keyword.Intent
	// ValidateTerm applies the generic rules: non-empty and within the length limit.
	ValidateTerm(term string) bool
	// ValidateSourceTerm applies the platform's own rules.
	ValidateSourceTerm(term string) bool
	State() StateSnapshot
	// Close releases the collector's session.
	Close() error
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Hasher digests cache keys for batched requests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// StateSnapshot is a copy of a collector's bookkeeping.
type StateSnapshot struct {
	Name           string          `json:"nome"`
	Config         map[string]any  `json:"config"`
	LastRun        time.Time       `json:"ultima_execucao"`
	TotalCollected int64           `json:"total_coletado"`
	Errors         []events.Record `json:"erros"`
}
