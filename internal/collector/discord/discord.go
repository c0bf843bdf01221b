// Package discord collects keyword candidates from chat servers through the
// Discord REST API: channel names and message search results around a seed term.
package discord

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/keyword-harvester/internal/collector"
	"github.com/JakeFAU/keyword-harvester/internal/keyword"
	"github.com/JakeFAU/keyword-harvester/internal/session"
)

// Name is the source identifier written to Keyword.Source.
const Name = "discord"

const (
	maxTermRunes         = 100
	defaultMaxCandidates = 50
	competitionScale     = 1000.0
)

type guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

type message struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  struct {
		ID string `json:"id"`
	} `json:"author"`
	Reactions []struct {
		Count int `json:"count"`
	} `json:"reactions"`
}

type searchResponse struct {
	TotalResults int         `json:"total_results"`
	Messages     [][]message `json:"messages"`
}

// Collector is the Discord collector.
type Collector struct {
	*collector.Base

	configuredGuilds []string
	maxCandidates    int

	mu     sync.Mutex
	guilds []string
}

// Factory builds a Discord collector for the registry.
func Factory(env collector.Env) (collector.Collector, error) {
	return New(env)
}

// New builds a Discord collector. Requests authenticate with the bot token.
func New(env collector.Env) (*Collector, error) {
	if env.Name == "" {
		env.Name = Name
	}
	c := &Collector{
		configuredGuilds: append([]string(nil), env.Source.GuildIDs...),
		maxCandidates:    env.Source.MaxCandidatesPerCall,
	}
	if c.maxCandidates <= 0 {
		c.maxCandidates = defaultMaxCandidates
	}
	auth := ""
	if env.Source.Token != "" {
		auth = "Bot " + env.Source.Token
	}
	base, err := collector.BuildBase(env, c, auth)
	if err != nil {
		return nil, err
	}
	c.Base = base
	return c, nil
}

// ValidateSourceTerm rejects terms over 100 characters, control characters and
// the angle brackets used by mention syntax.
func (c *Collector) ValidateSourceTerm(term string) bool {
	if term == "" || utf8.RuneCountInString(term) > maxTermRunes {
		return false
	}
	for _, r := range term {
		if unicode.IsControl(r) || r == '<' || r == '>' {
			return false
		}
	}
	return true
}

// Discover lists matching channel names first, then candidates extracted from
// messages matching term, across every guild. Any failed request fails the call.
func (c *Collector) Discover(ctx context.Context, s *session.Session, term string) ([]string, error) {
	guilds, err := c.guildIDs(ctx, s)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, id := range guilds {
		var channels []channel
		if err := s.GetJSON(ctx, "channels", "/guilds/"+url.PathEscape(id)+"/channels", nil, &channels); err != nil {
			return nil, err
		}
		for _, ch := range channels {
			name := strings.NewReplacer("-", " ", "_", " ").Replace(ch.Name)
			if !strings.Contains(keyword.Normalize(name), term) {
				continue
			}
			out = append(out, name)
			if len(out) >= c.maxCandidates {
				return out, nil
			}
		}
	}
	for _, id := range guilds {
		res, err := c.search(ctx, s, id, term)
		if err != nil {
			return nil, err
		}
		for _, group := range res.Messages {
			for _, m := range group {
				out = append(out, collector.ExtractCandidates(m.Content)...)
				if len(out) >= c.maxCandidates {
					return out[:c.maxCandidates], nil
				}
			}
		}
	}
	return out, nil
}

// Measure searches every guild for term and scores the activity found:
// competition = 0.5*author_ratio + 0.3*reaction_ratio + 0.2*min(total/1000, 1).
func (c *Collector) Measure(ctx context.Context, s *session.Session, term string) (keyword.Metrics, error) {
	guilds, err := c.guildIDs(ctx, s)
	if err != nil {
		return keyword.Metrics{}, err
	}

	var total, sampled, reacted int
	authors := make(map[string]struct{})
	for _, id := range guilds {
		res, err := c.search(ctx, s, id, term)
		if err != nil {
			return keyword.Metrics{}, err
		}
		total += res.TotalResults
		for _, group := range res.Messages {
			for _, m := range group {
				sampled++
				if m.Author.ID != "" {
					authors[m.Author.ID] = struct{}{}
				}
				for _, r := range m.Reactions {
					if r.Count > 0 {
						reacted++
						break
					}
				}
			}
		}
	}

	m := keyword.ZeroMetrics(term, c.Name())
	m.Counts = map[string]int{
		"total_mensagens":   total,
		"mensagens_amostra": sampled,
		"autores_unicos":    len(authors),
		"mensagens_reacoes": reacted,
		"servidores":        len(guilds),
	}
	if total == 0 {
		return m, nil
	}
	m.Volume = keyword.VolumeBucket(total)
	m.Competition = keyword.ClampCompetition(
		0.5*keyword.Ratio(len(authors), sampled) +
			0.3*keyword.Ratio(reacted, sampled) +
			0.2*min(float64(total)/competitionScale, 1),
	)
	return m, nil
}

func (c *Collector) search(ctx context.Context, s *session.Session, guildID, term string) (searchResponse, error) {
	var res searchResponse
	path := "/guilds/" + url.PathEscape(guildID) + "/messages/search"
	err := s.GetJSON(ctx, "search", path, url.Values{"content": {term}}, &res)
	return res, err
}

// guildIDs returns the configured guilds, or lists the bot's guilds once.
func (c *Collector) guildIDs(ctx context.Context, s *session.Session) ([]string, error) {
	if len(c.configuredGuilds) > 0 {
		return c.configuredGuilds, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guilds != nil {
		return c.guilds, nil
	}
	var listed []guild
	if err := s.GetJSON(ctx, "guilds", "/users/@me/guilds", nil, &listed); err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	ids := make([]string, 0, len(listed))
	for _, g := range listed {
		if g.ID != "" {
			ids = append(ids, g.ID)
		}
	}
	c.guilds = ids
	return ids, nil
}
