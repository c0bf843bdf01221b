// Package keyword defines the normalized keyword candidates produced by collectors
// and the scoring helpers shared by every source.
package keyword

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Competition bounds. A keyword's competition is never 0 and never above 1.
const (
	MinCompetition = 0.1
	MaxCompetition = 1.0
)

// Long-tail acceptance thresholds.
const (
	LongTailMinWords       = 3
	LongTailMinLength      = 15
	LongTailMaxCompetition = 0.5
)

// Intent is the search intent attached to a keyword.
type Intent string

// Supported intents.
const (
	IntentInformational Intent = "informacional"
	IntentNavigational  Intent = "navegacional"
	IntentCommercial    Intent = "comercial"
	IntentTransactional Intent = "transacional"
)

// Valid reports whether i is one of the supported intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentInformational, IntentNavigational, IntentCommercial, IntentTransactional:
		return true
	default:
		return false
	}
}

// Keyword is one candidate handed to the scoring stage.
type Keyword struct {
	Term        string         `json:"termo"`
	Source      string         `json:"fonte"`
	Volume      int            `json:"volume"`
	CPC         float64        `json:"cpc"`
	Competition float64        `json:"concorrencia"`
	Intent      Intent         `json:"intencao"`
	Metadata    map[string]any `json:"metadados"`
}

// Metrics are the engagement signals measured for one term.
type Metrics struct {
	Term        string         `json:"termo"`
	Source      string         `json:"fonte"`
	Volume      int            `json:"volume"`
	CPC         float64        `json:"cpc"`
	Competition float64        `json:"concorrencia"`
	Counts      map[string]int `json:"contagens,omitempty"`
}

// ZeroMetrics returns the floor values used when nothing was measured.
func ZeroMetrics(term, source string) Metrics {
	return Metrics{
		Term:        term,
		Source:      source,
		Volume:      VolumeBucket(0),
		Competition: MinCompetition,
	}
}

// New assembles a keyword from measured metrics, enforcing the value invariants.
func New(term, source string, m Metrics, intent Intent, metadata map[string]any) Keyword {
	if !intent.Valid() {
		intent = IntentInformational
	}
	if metadata == nil {
		metadata = make(map[string]any, len(m.Counts))
	}
	for k, v := range m.Counts {
		if _, ok := metadata[k]; !ok {
			metadata[k] = v
		}
	}
	volume := m.Volume
	if volume < 0 {
		volume = 0
	}
	cpc := m.CPC
	if cpc < 0 || math.IsNaN(cpc) {
		cpc = 0
	}
	return Keyword{
		Term:        Normalize(term),
		Source:      source,
		Volume:      volume,
		CPC:         cpc,
		Competition: ClampCompetition(m.Competition),
		Intent:      intent,
		Metadata:    metadata,
	}
}

// Validate checks the value invariants.
func (k Keyword) Validate() error {
	var errs []error
	if k.Term == "" {
		errs = append(errs, errors.New("termo must not be empty"))
	}
	if k.Source == "" {
		errs = append(errs, errors.New("fonte must not be empty"))
	}
	if k.Volume < 0 {
		errs = append(errs, fmt.Errorf("volume must be >= 0, got %d", k.Volume))
	}
	if k.CPC < 0 {
		errs = append(errs, fmt.Errorf("cpc must be >= 0, got %v", k.CPC))
	}
	if k.Competition < MinCompetition || k.Competition > MaxCompetition {
		errs = append(errs, fmt.Errorf("concorrencia must be within [%v, %v], got %v", MinCompetition, MaxCompetition, k.Competition))
	}
	if !k.Intent.Valid() {
		errs = append(errs, fmt.Errorf("intencao %q is not supported", k.Intent))
	}
	return errors.Join(errs...)
}

// Normalize trims, collapses inner whitespace and case-folds a term.
func Normalize(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}

// VolumeBucket maps a raw activity count to a coarse volume proxy.
func VolumeBucket(count int) int {
	switch {
	case count <= 0:
		return 10
	case count < 100:
		return 50
	case count < 1000:
		return 100
	case count < 10000:
		return 500
	default:
		return 1000
	}
}

// ClampCompetition bounds v to [MinCompetition, MaxCompetition].
func ClampCompetition(v float64) float64 {
	if math.IsNaN(v) || v < MinCompetition {
		return MinCompetition
	}
	if v > MaxCompetition {
		return MaxCompetition
	}
	return v
}

// Ratio returns part/total bounded to [0, 1], or 0 when total is not positive.
func Ratio(part, total int) float64 {
	if total <= 0 || part <= 0 {
		return 0
	}
	if part >= total {
		return 1
	}
	return float64(part) / float64(total)
}

// IsLongTail reports whether a term passes the long-tail filter: at least three
// words, at least fifteen characters and competition no higher than 0.5.
func IsLongTail(term string, competition float64) bool {
	term = Normalize(term)
	if len(strings.Fields(term)) < LongTailMinWords {
		return false
	}
	if utf8.RuneCountInString(term) < LongTailMinLength {
		return false
	}
	return competition <= LongTailMaxCompetition
}
