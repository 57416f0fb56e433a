// Package extract turns raw episode content into entities and facts,
// fusing an LLM extraction path, a regex fallback, and the temporal
// extractor into one validated, salience-ranked list.
package extract

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/adverant/nexus-memory/internal/classify"
	"github.com/adverant/nexus-memory/internal/config"
	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/metrics"
	"github.com/adverant/nexus-memory/internal/temporal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// llmExcerptLimit bounds the content sent on the LLM path.
const llmExcerptLimit = 2000

// Options bound the extraction pipeline. Populate with OptionsFromEnv in
// production; tests set fields directly.
type Options struct {
	MinConfidence       float64
	MinNameLength       int
	MaxEntities         int
	LLMEnabled          bool
	RegexFallback       bool
	FactMinConfidence   float64
	MaxFacts            int
	FactMinObjectLength int
	FactMaxObjectLength int
}

func OptionsFromEnv() Options {
	return Options{
		MinConfidence:       config.EntityMinConfidence(),
		MinNameLength:       config.EntityMinNameLength(),
		MaxEntities:         config.MaxEntitiesPerEpisode(),
		LLMEnabled:          config.LLMEntityExtraction(),
		RegexFallback:       config.RegexEntityFallback(),
		FactMinConfidence:   config.FactMinConfidence(),
		MaxFacts:            config.MaxFactsPerEpisode(),
		FactMinObjectLength: config.FactMinObjectLength(),
		FactMaxObjectLength: config.FactMaxObjectLength(),
	}
}

// Result is the extraction output for one episode.
type Result struct {
	Entities []domain.ExtractedEntity
	Facts    []domain.ExtractedFact
	Temporal []temporal.Expression
}

type Extractor struct {
	llm        domain.LLMClient
	classifier *classify.Classifier
	temporal   *temporal.Extractor
	opts       Options
	logger     *zap.Logger
}

func New(llm domain.LLMClient, classifier *classify.Classifier, temp *temporal.Extractor, opts Options, logger *zap.Logger) *Extractor {
	if temp == nil {
		temp = temporal.NewExtractor()
	}
	return &Extractor{llm: llm, classifier: classifier, temporal: temp, opts: opts, logger: logger}
}

type candidate struct {
	name       string
	typ        domain.EntityType
	confidence float64
	typed      bool
}

// Extract runs the full pipeline: LLM path (with regex fallback on
// failure), stopword re-validation, classification, salience scoring,
// facts, temporal fusion, and the per-episode cap.
func (e *Extractor) Extract(ctx context.Context, content string, episodeID uuid.UUID, tenant domain.TenantContext, now time.Time) (*Result, error) {
	candidates := make(map[string]*candidate)
	filtered := make(map[FilterReason]int)

	llmOK := false
	if e.opts.LLMEnabled && e.llm != nil {
		llmOK = e.llmPath(ctx, content, candidates, filtered)
	}
	if !llmOK && e.opts.RegexFallback {
		e.regexPath(content, candidates, filtered)
	}

	for reason, n := range filtered {
		metrics.EntityFiltered.WithLabelValues(string(reason)).Add(float64(n))
	}
	if len(filtered) > 0 {
		e.logger.Debug("entity candidates filtered", zap.Any("reasons", filtered))
	}

	// Resolve types for candidates the LLM did not type.
	var untyped []string
	for _, c := range candidates {
		if !c.typed {
			untyped = append(untyped, c.name)
		}
	}
	if len(untyped) > 0 && e.classifier != nil {
		classified := e.classifier.ClassifyBatch(ctx, untyped)
		for _, name := range untyped {
			if cls, ok := classified[name]; ok {
				c := candidates[domain.CanonicalName(name)]
				c.typ = cls.Type
				if c.confidence == 0 {
					c.confidence = cls.Confidence
				}
				c.typed = true
			}
		}
	}
	for _, c := range candidates {
		if !c.typed {
			c.typ = classify.Heuristic(c.name)
		}
	}

	entities := make([]domain.ExtractedEntity, 0, len(candidates))
	for _, c := range candidates {
		entities = append(entities, domain.ExtractedEntity{
			ID:           uuid.New(),
			Name:         c.name,
			Type:         c.typ,
			Confidence:   domain.Clamp01(c.confidence),
			Salience:     Salience(content, c.name),
			MentionCount: 1,
			FirstSeen:    now,
			LastSeen:     now,
			Tenant:       tenant,
		})
	}

	// Temporal entities join the list unless name-identical to an
	// existing entry.
	expressions := e.temporal.Extract(content)
	for _, expr := range expressions {
		key := domain.CanonicalName(expr.Text)
		if _, exists := candidates[key]; exists {
			continue
		}
		candidates[key] = &candidate{name: expr.Text}
		entities = append(entities, domain.ExtractedEntity{
			ID:              uuid.New(),
			Name:            expr.Text,
			Type:            domain.EntityTemporal,
			Confidence:      expr.Confidence,
			Salience:        Salience(content, expr.Text),
			MentionCount:    1,
			FirstSeen:       now,
			LastSeen:        now,
			TemporalType:    expr.Type,
			NormalizedValue: expr.NormalizedValue,
			Tenant:          tenant,
		})
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Salience != entities[j].Salience {
			return entities[i].Salience > entities[j].Salience
		}
		return entities[i].Name < entities[j].Name
	})
	if len(entities) > e.opts.MaxEntities {
		entities = entities[:e.opts.MaxEntities]
	}

	return &Result{
		Entities: entities,
		Facts:    e.extractFacts(content, episodeID, tenant, now),
		Temporal: expressions,
	}, nil
}

// llmPath feeds an excerpt to the LLM and re-validates every returned
// entity. Reports whether the call produced usable output.
func (e *Extractor) llmPath(ctx context.Context, content string, candidates map[string]*candidate, filtered map[FilterReason]int) bool {
	excerpt := content
	if len(excerpt) > llmExcerptLimit {
		excerpt = excerpt[:llmExcerptLimit]
	}

	raw, err := e.llm.ExtractEntities(ctx, excerpt)
	if err != nil {
		e.logger.Warn("llm entity extraction failed, falling back to regex", zap.Error(err))
		return false
	}

	for _, ent := range raw {
		name := strings.TrimSpace(ent.Name)
		if reason, drop := rejectName(name, e.opts.MinNameLength); drop {
			filtered[reason]++
			continue
		}
		conf := domain.Clamp01(ent.Confidence)
		if conf < e.opts.MinConfidence {
			filtered[FilterLowConfidence]++
			continue
		}
		key := domain.CanonicalName(name)
		if existing, ok := candidates[key]; ok {
			if conf > existing.confidence {
				existing.confidence = conf
			}
			continue
		}
		candidates[key] = &candidate{
			name:       name,
			typ:        domain.CoerceEntityType(ent.Type),
			confidence: conf,
			typed:      true,
		}
	}
	return true
}

var (
	reCapitalized = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9'.-]*(?:\s+[A-Z][a-zA-Z0-9'.-]*){0,3}\b`)
	reIdentifier  = regexp.MustCompile(`\b[a-z][a-z0-9]*[A-Z]\w*(?:\(\))?\b|\b[\w-]+\.(?:go|py|ts|js|rs|java|sql|md|yaml|yml|json)\b`)
)

// regexPath extracts capitalized phrases and code identifiers, screened by
// the same stopword and phrase filters as the LLM path.
func (e *Extractor) regexPath(content string, candidates map[string]*candidate, filtered map[FilterReason]int) {
	add := func(name string) {
		name = strings.TrimSpace(name)
		if reason, drop := rejectName(name, e.opts.MinNameLength); drop {
			filtered[reason]++
			return
		}
		key := domain.CanonicalName(name)
		if _, ok := candidates[key]; ok {
			return
		}
		candidates[key] = &candidate{name: name, confidence: e.opts.MinConfidence}
	}

	for _, m := range reCapitalized.FindAllString(content, -1) {
		add(m)
	}
	for _, m := range reIdentifier.FindAllString(content, -1) {
		add(m)
	}
}

// Salience scores how central a name is to the content: mention frequency
// plus how early it first appears, capped at 1.
func Salience(content, name string) float64 {
	if len(content) == 0 || name == "" {
		return 0
	}
	lower := strings.ToLower(content)
	needle := strings.ToLower(name)

	mentions := strings.Count(lower, needle)
	if mentions == 0 {
		return 0
	}
	firstPos := strings.Index(lower, needle)
	positional := (1 - float64(firstPos)/float64(len(content))) * 0.3
	return math.Min(float64(mentions)*0.2+positional, 1.0)
}
