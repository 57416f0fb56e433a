package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
)

// factPattern binds a relation regex to its predicate and base confidence.
// Group 1 is the subject, group 2 the object.
type factPattern struct {
	re         *regexp.Regexp
	predicate  string
	confidence float64
}

var factPatterns = []factPattern{
	{regexp.MustCompile(`\b([A-Z][\w.-]*(?:\s+[A-Z]?[\w.-]+){0,3})\s+(?:is|are)\s+(?:a\s+|an\s+|the\s+)?([^.!?\n,;]{3,120})`), "is", 0.7},
	{regexp.MustCompile(`\b([A-Z][\w.-]*(?:\s+[A-Z]?[\w.-]+){0,3})\s+uses\s+([^.!?\n,;]{3,120})`), "uses", 0.75},
	{regexp.MustCompile(`\b([A-Z][\w.-]*(?:\s+[A-Z]?[\w.-]+){0,3})\s+depends\s+on\s+([^.!?\n,;]{3,120})`), "depends on", 0.75},
	{regexp.MustCompile(`\b([A-Z][\w.-]*(?:\s+[A-Z]?[\w.-]+){0,3})\s+requires\s+([^.!?\n,;]{3,120})`), "requires", 0.75},
	{regexp.MustCompile(`\b([A-Z][\w.-]*(?:\s+[A-Z]?[\w.-]+){0,3})\s+supports\s+([^.!?\n,;]{3,120})`), "supports", 0.7},
	{regexp.MustCompile(`\b([A-Z][\w.-]*(?:\s+[A-Z]?[\w.-]+){0,3})\s+runs\s+on\s+([^.!?\n,;]{3,120})`), "runs on", 0.7},
	{regexp.MustCompile(`\b([A-Z][\w.-]*(?:\s+[A-Z]?[\w.-]+){0,3})\s+works\s+with\s+([^.!?\n,;]{3,120})`), "works with", 0.7},
	{regexp.MustCompile(`(?i)\b(we|they|i|the team|[A-Z][\w.-]*(?:\s+[A-Z][\w.-]*){0,2})\s+decided\s+to\s+([^.!?\n,;]{3,120})`), "decided to", 0.8},
}

// extractFacts pulls subject/predicate/object triples out of content.
// Objects outside the configured length bounds are dropped; exact
// duplicates (case-insensitive S:P:O) collapse; at most MaxFacts survive.
func (e *Extractor) extractFacts(content string, episodeID uuid.UUID, tenant domain.TenantContext, now time.Time) []domain.ExtractedFact {
	seen := make(map[string]bool)
	var facts []domain.ExtractedFact

	for _, fp := range factPatterns {
		for _, m := range fp.re.FindAllStringSubmatch(content, -1) {
			if len(facts) >= e.opts.MaxFacts {
				return facts
			}
			subject := strings.TrimSpace(m[1])
			object := strings.TrimSpace(strings.TrimRight(m[2], " .,;:"))
			if len(object) < e.opts.FactMinObjectLength || len(object) > e.opts.FactMaxObjectLength {
				continue
			}
			if subject == "" || fp.confidence < e.opts.FactMinConfidence {
				continue
			}

			f := domain.ExtractedFact{
				ID:              uuid.New(),
				Subject:         subject,
				Predicate:       fp.predicate,
				Object:          object,
				Confidence:      fp.confidence,
				SourceEpisodeID: episodeID,
				ExtractedAt:     now,
				IsValid:         true,
				Tenant:          tenant,
			}
			if seen[f.DedupKey()] {
				continue
			}
			seen[f.DedupKey()] = true
			facts = append(facts, f)
		}
	}
	return facts
}
