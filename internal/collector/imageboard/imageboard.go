// Package imageboard collects keyword candidates from image-board catalogs: thread
// subjects, slugs and comment text for threads that mention a seed term.
package imageboard

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/keyword-harvester/internal/cache"
	"github.com/JakeFAU/keyword-harvester/internal/collector"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
	"github.com/JakeFAU/keyword-harvester/internal/session"
)

// Name is the source identifier written to Keyword.Source.
const Name = "imageboard"

// OpCatalog is the cache operation for board catalogs.
const OpCatalog = "catalogo"

const (
	maxTermRunes         = 80
	defaultMaxCandidates = 50
	catalogTTL           = 5 * time.Minute
)

// Thread is the catalog entry for one thread.
type Thread struct {
	No          int64  `json:"no"`
	Subject     string `json:"sub,omitempty"`
	Comment     string `json:"com,omitempty"`
	SemanticURL string `json:"semantic_url,omitempty"`
	Replies     int    `json:"replies"`
	Images      int    `json:"images"`
}

// Page is one catalog page.
type Page struct {
	Page    int      `json:"page"`
	Threads []Thread `json:"threads"`
}

// Collector is the image-board collector.
type Collector struct {
	*collector.Base

	boards        []string
	maxCandidates int
}

// Factory builds an image-board collector for the registry.
func Factory(env collector.Env) (collector.Collector, error) {
	return New(env)
}

// New builds an image-board collector over the configured boards.
func New(env collector.Env) (*Collector, error) {
	if env.Name == "" {
		env.Name = Name
	}
	c := &Collector{
		boards:        append([]string(nil), env.Source.Boards...),
		maxCandidates: env.Source.MaxCandidatesPerCall,
	}
	if c.maxCandidates <= 0 {
		c.maxCandidates = defaultMaxCandidates
	}
	base, err := collector.BuildBase(env, c, "")
	if err != nil {
		return nil, err
	}
	c.Base = base
	return c, nil
}

// ValidateSourceTerm accepts letters, digits, spaces, hyphens and apostrophes,
// up to 80 characters.
func (c *Collector) ValidateSourceTerm(term string) bool {
	if term == "" || utf8.RuneCountInString(term) > maxTermRunes {
		return false
	}
	for _, r := range term {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '\'' {
			continue
		}
		return false
	}
	return true
}

// Discover scans every board's catalog for threads mentioning term. Each match
// contributes its subject, then its slug, then candidates from its comment.
func (c *Collector) Discover(ctx context.Context, s *session.Session, term string) ([]string, error) {
	var out []string
	for _, board := range c.boards {
		pages, err := c.catalog(ctx, s, board)
		if err != nil {
			return nil, err
		}
		for _, p := range pages {
			for _, t := range p.Threads {
				if !mentions(threadText(t), term) {
					continue
				}
				if sub := keyword.Normalize(StripHTML(t.Subject)); sub != "" {
					out = append(out, sub)
				}
				if slug := slugPhrase(t.SemanticURL); slug != "" {
					out = append(out, slug)
				}
				out = append(out, collector.ExtractCandidates(StripHTML(t.Comment))...)
				if len(out) >= c.maxCandidates {
					return out[:c.maxCandidates], nil
				}
			}
		}
	}
	return out, nil
}

// Measure derives metrics from the catalogs:
// competition = 0.6*thread_share + 0.4*image_ratio.
func (c *Collector) Measure(ctx context.Context, s *session.Session, term string) (keyword.Metrics, error) {
	var threads, matched, replies, images int
	for _, board := range c.boards {
		pages, err := c.catalog(ctx, s, board)
		if err != nil {
			return keyword.Metrics{}, err
		}
		for _, p := range pages {
			for _, t := range p.Threads {
				threads++
				if !mentions(threadText(t), term) {
					continue
				}
				matched++
				replies += t.Replies
				images += t.Images
			}
		}
	}

	m := keyword.ZeroMetrics(term, c.Name())
	m.Counts = map[string]int{
		"threads":          matched,
		"threads_catalogo": threads,
		"respostas":        replies,
		"imagens":          images,
	}
	if matched == 0 {
		return m, nil
	}
	m.Volume = keyword.VolumeBucket(matched + replies)
	m.Competition = keyword.ClampCompetition(
		0.6*keyword.Ratio(matched, threads) + 0.4*keyword.Ratio(images, replies),
	)
	return m, nil
}

// catalog returns a board's catalog, cached for a few minutes. Only a miss
// reaches the session, and with it the rate limiter and breaker.
func (c *Collector) catalog(ctx context.Context, s *session.Session, board string) ([]Page, error) {
	pages, _, err := cache.Fetch(ctx, c.Cache(), OpCatalog, board, catalogTTL, func(ctx context.Context) ([]Page, error) {
		var pages []Page
		err := s.GetJSON(ctx, "catalog", "/"+url.PathEscape(board)+"/catalog.json", nil, &pages)
		return pages, err
	})
	return pages, err
}

// mentions reports whether term occurs in text as whole words.
func mentions(text, term string) bool {
	if term == "" {
		return false
	}
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], term)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(term)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		i = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func threadText(t Thread) string {
	return keyword.Normalize(StripHTML(t.Subject) + " " + StripHTML(t.Comment) + " " + slugPhrase(t.SemanticURL))
}

func slugPhrase(slug string) string {
	return keyword.Normalize(strings.ReplaceAll(slug, "-", " "))
}

// StripHTML returns the visible text of a post body. Line breaks become spaces.
func StripHTML(body string) string {
	if body == "" {
		return ""
	}
	body = strings.NewReplacer("<br>", " ", "<br/>", " ", "<br />", " ").Replace(body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	return doc.Text()
}
