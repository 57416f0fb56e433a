package extract

import (
	"regexp"
	"strings"

	"github.com/adverant/nexus-memory/internal/domain"
)

var (
	reQuoted    = regexp.MustCompile(`"([^"]{2,80})"|'([^']{2,80})'`)
	reCodeTerm  = regexp.MustCompile(`\b[a-z][a-z0-9]*[A-Z]\w*\b|\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)
	reLongWord  = regexp.MustCompile(`\b[A-Za-z][a-z]{5,}\b`)
	reCapPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9'.-]*(?:\s+[A-Z][a-zA-Z0-9'.-]*){0,3}\b`)
)

// QueryEntities pulls lightweight search anchors from a recall query:
// quoted substrings, capitalized phrases, code identifiers, and long
// uncommon words. No LLM call; recall latency cannot afford one.
func QueryEntities(query string, max int) []string {
	if max <= 0 {
		max = 50
	}
	seen := make(map[string]bool)
	var out []string

	add := func(name string) {
		name = strings.TrimSpace(name)
		if _, drop := rejectName(name, 2); drop {
			return
		}
		key := domain.CanonicalName(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, name)
	}

	for _, m := range reQuoted.FindAllStringSubmatch(query, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range reCapPhrase.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range reCodeTerm.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range reLongWord.FindAllString(query, -1) {
		add(m)
	}

	if len(out) > max {
		out = out[:max]
	}
	return out
}
