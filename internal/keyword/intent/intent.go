// Package intent classifies the search intent of a term from a fixed lexicon.
//
// The process-wide classifier is created on first use by Default and released by
// Reset; both are safe for concurrent use.
package intent

import (
	"strings"
	"sync"

	"github.com/JakeFAU/keyword-harvester/internal/keyword"
)

// Source is recorded in keyword metadata as the origin of the intent label.
const Source = "lexico"

type rule struct {
	intent keyword.Intent
	words  map[string]struct{}
	// phrases match anywhere in the padded term.
	phrases []string
}

// Classifier maps terms to intents. Rules are checked in priority order and the
// first match wins; unmatched terms are informational.
type Classifier struct {
	rules []rule
}

var lexicon = []struct {
	intent  keyword.Intent
	words   []string
	phrases []string
}{
	{
		intent: keyword.IntentTransactional,
		words: []string{
			"comprar", "compra", "preço", "preco", "precos", "preços", "desconto", "cupom", "promoção", "promocao",
			"barato", "barata", "frete", "loja", "assinar", "baixar", "download", "buy", "price", "deal",
			"discount", "coupon", "cheap", "order", "shop", "subscribe",
		},
		phrases: []string{"onde comprar", "quanto custa", "for sale"},
	},
	{
		intent: keyword.IntentCommercial,
		words: []string{
			"melhor", "melhores", "review", "reviews", "avaliação", "avaliacao", "comparar", "comparação",
			"comparacao", "vs", "versus", "top", "best", "alternativa", "alternativas", "alternative", "ranking",
		},
		phrases: []string{"vale a pena", "worth it"},
	},
	{
		intent: keyword.IntentNavigational,
		words: []string{
			"login", "entrar", "site", "oficial", "official", "app", "discord", "reddit", "twitter",
			"youtube", "instagram", "tiktok", "www",
		},
		phrases: []string{".com", "pagina oficial", "página oficial"},
	},
	{
		intent: keyword.IntentInformational,
		words: []string{
			"como", "porque", "quando", "qual", "quais", "guia", "tutorial", "dicas", "how", "what",
			"why", "guide", "tips",
		},
		phrases: []string{"o que", "por que", "what is"},
	},
}

// NewClassifier builds a classifier from the built-in lexicon.
func NewClassifier() *Classifier {
	c := &Classifier{rules: make([]rule, 0, len(lexicon))}
	for _, entry := range lexicon {
		r := rule{intent: entry.intent, words: make(map[string]struct{}, len(entry.words)), phrases: entry.phrases}
		for _, w := range entry.words {
			r.words[w] = struct{}{}
		}
		c.rules = append(c.rules, r)
	}
	return c
}

// Classify returns the intent of term.
func (c *Classifier) Classify(term string) keyword.Intent {
	term = keyword.Normalize(term)
	if term == "" {
		return keyword.IntentInformational
	}
	tokens := strings.FieldsFunc(term, func(r rune) bool {
		return r == ' ' || r == '-' || r == '#' || r == '@' || r == '?' || r == '!' || r == ','
	})
	padded := " " + term + " "
	for _, r := range c.rules {
		for _, tok := range tokens {
			if _, ok := r.words[tok]; ok {
				return r.intent
			}
		}
		for _, p := range r.phrases {
			if strings.Contains(padded, p) {
				return r.intent
			}
		}
	}
	return keyword.IntentInformational
}

// ClassifyAll classifies each term, preserving order.
func (c *Classifier) ClassifyAll(terms []string) []keyword.Intent {
	out := make([]keyword.Intent, len(terms))
	for i, t := range terms {
		out[i] = c.Classify(t)
	}
	return out
}

var (
	mu       sync.Mutex
	instance *Classifier
)

// Default returns the process-wide classifier, building it on first call.
func Default() *Classifier {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance = NewClassifier()
	}
	return instance
}

// Reset releases the process-wide classifier. The next Default call builds a new one.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
}
