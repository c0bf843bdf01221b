package collector

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/JakeFAU/keyword-harvester/internal/keyword"
)

// MinTokenLength is the shortest plain word kept as a candidate.
const MinTokenLength = 4

var (
	urlPattern     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	tagPattern     = regexp.MustCompile(`#([\p{L}\p{N}_]{2,})`)
	mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.]{2,})`)
	tokenPattern   = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// ExtractCandidates pulls candidate terms out of free text: hashtags, then
// mentions, then words of at least MinTokenLength characters. URLs are ignored
// and digit-only values dropped. Results are case-folded and may repeat.
func ExtractCandidates(text string) []string {
	text = urlPattern.ReplaceAllString(text, " ")

	var out []string
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		out = appendCandidate(out, m[1])
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		out = appendCandidate(out, strings.TrimRight(m[1], "."))
	}

	stripped := tagPattern.ReplaceAllString(text, " ")
	stripped = mentionPattern.ReplaceAllString(stripped, " ")
	for _, tok := range tokenPattern.FindAllString(stripped, -1) {
		if len([]rune(tok)) < MinTokenLength {
			continue
		}
		out = appendCandidate(out, tok)
	}
	return out
}

func appendCandidate(out []string, c string) []string {
	c = keyword.Normalize(c)
	if c == "" || digitsOnly(c) {
		return out
	}
	return append(out, c)
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// DedupeCap normalizes candidates, drops blanks and the seed term, removes
// duplicates keeping the first occurrence, and stops at limit.
func DedupeCap(candidates []string, seed string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}
	seed = keyword.Normalize(seed)
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, min(limit, len(candidates)))
	for _, c := range candidates {
		c = keyword.Normalize(c)
		if c == "" || c == seed {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}
