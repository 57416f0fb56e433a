// Package classify assigns entity types through three tiers: a curated
// name cache, a cross-encoder reranker, and an LLM classifier, with a
// regex heuristic as the final fallback.
package classify

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/adverant/nexus-memory/internal/domain"
	"go.uber.org/zap"
)

// Options carry the confidence thresholds. Zero values are replaced with
// the documented defaults.
type Options struct {
	HighConfidence   float64
	MediumConfidence float64
	BaseConfidence   float64
	Semantic         bool
}

func (o Options) withDefaults() Options {
	if o.HighConfidence == 0 {
		o.HighConfidence = 0.95
	}
	if o.MediumConfidence == 0 {
		o.MediumConfidence = 0.7
	}
	if o.BaseConfidence == 0 {
		o.BaseConfidence = 0.6
	}
	return o
}

// Classifier is safe for concurrent use. The name cache is process-wide,
// content-addressed by lowercased name, last writer wins.
type Classifier struct {
	rerank domain.RerankClient
	llm    domain.LLMClient
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]domain.Classification
}

func New(rerank domain.RerankClient, llm domain.LLMClient, opts Options, logger *zap.Logger) *Classifier {
	c := &Classifier{
		rerank: rerank,
		llm:    llm,
		opts:   opts.withDefaults(),
		logger: logger,
		cache:  make(map[string]domain.Classification, len(curatedNames)),
	}
	for name, typ := range curatedNames {
		c.cache[name] = domain.Classification{Type: typ, Confidence: 0.99}
	}
	return c
}

// curatedNames seed the cache with unambiguous technologies, organizations
// and locations.
var curatedNames = map[string]domain.EntityType{
	"kubernetes": domain.EntityTechnology, "docker": domain.EntityTechnology,
	"postgresql": domain.EntityTechnology, "postgres": domain.EntityTechnology,
	"redis": domain.EntityTechnology, "neo4j": domain.EntityTechnology,
	"qdrant": domain.EntityTechnology, "python": domain.EntityTechnology,
	"golang": domain.EntityTechnology, "go": domain.EntityTechnology,
	"typescript": domain.EntityTechnology, "javascript": domain.EntityTechnology,
	"react": domain.EntityTechnology, "linux": domain.EntityTechnology,
	"graphql": domain.EntityTechnology, "kafka": domain.EntityTechnology,
	"terraform": domain.EntityTechnology, "rust": domain.EntityTechnology,

	"google": domain.EntityOrganization, "microsoft": domain.EntityOrganization,
	"amazon": domain.EntityOrganization, "apple": domain.EntityOrganization,
	"meta": domain.EntityOrganization, "netflix": domain.EntityOrganization,
	"github": domain.EntityOrganization, "openai": domain.EntityOrganization,
	"anthropic": domain.EntityOrganization, "nasa": domain.EntityOrganization,

	"london": domain.EntityLocation, "paris": domain.EntityLocation,
	"tokyo": domain.EntityLocation, "berlin": domain.EntityLocation,
	"seattle": domain.EntityLocation, "new york": domain.EntityLocation,
	"san francisco": domain.EntityLocation, "singapore": domain.EntityLocation,
}

// typeDescriptions are the candidate set scored by the reranker tier.
var typeDescriptions = []struct {
	Type domain.EntityType
	Desc string
}{
	{domain.EntityPerson, "person: the name of a human being"},
	{domain.EntityOrganization, "organization: a company, team, institution or group"},
	{domain.EntityLocation, "location: a city, country, region or place"},
	{domain.EntityConcept, "concept: an abstract idea, topic or domain term"},
	{domain.EntityTechnology, "technology: a programming language, framework, tool or system"},
	{domain.EntityFile, "file: a file name or filesystem path"},
	{domain.EntityFunction, "function: a function, method or code identifier"},
}

// Classify resolves the entity type for a name. Tiers are consulted in
// order; the first conclusive answer wins and populates the cache.
func (c *Classifier) Classify(ctx context.Context, name string) domain.Classification {
	key := strings.ToLower(strings.TrimSpace(name))

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	if c.opts.Semantic && c.rerank != nil {
		if cls, ok := c.classifyByRerank(ctx, name); ok {
			c.store(key, cls)
			return cls
		}
	}

	if c.llm != nil {
		cls, err := c.llm.ClassifyEntity(ctx, name)
		if err == nil && cls != nil {
			out := domain.Classification{
				Type:       cls.Type,
				Confidence: domain.Clamp01(cls.Confidence),
			}
			if !domain.ValidEntityType(string(out.Type)) {
				out.Type = domain.EntityOther
			}
			c.store(key, out)
			return out
		}
		if err != nil {
			c.logger.Debug("llm classification failed, using heuristic",
				zap.String("name", name), zap.Error(err))
		}
	}

	out := domain.Classification{Type: Heuristic(name), Confidence: c.opts.BaseConfidence}
	c.store(key, out)
	return out
}

func (c *Classifier) classifyByRerank(ctx context.Context, name string) (domain.Classification, bool) {
	docs := make([]string, len(typeDescriptions))
	for i, td := range typeDescriptions {
		docs[i] = td.Desc
	}
	results, err := c.rerank.Rerank(ctx, name, docs, 1)
	if err != nil || len(results) == 0 {
		return domain.Classification{}, false
	}
	top := results[0]
	if top.Score < c.opts.MediumConfidence || top.Index < 0 || top.Index >= len(typeDescriptions) {
		return domain.Classification{}, false
	}
	return domain.Classification{
		Type:       typeDescriptions[top.Index].Type,
		Confidence: domain.Clamp01(top.Score),
	}, true
}

// ClassifyBatch resolves many names at once, batching the LLM tier for
// cache misses the earlier tiers could not settle.
func (c *Classifier) ClassifyBatch(ctx context.Context, names []string) map[string]domain.Classification {
	out := make(map[string]domain.Classification, len(names))
	var misses []string

	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		c.mu.RLock()
		cached, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			out[name] = cached
			continue
		}
		misses = append(misses, name)
	}

	if len(misses) > 0 && c.llm != nil {
		batch, err := c.llm.ClassifyEntities(ctx, misses)
		if err == nil {
			for _, name := range misses {
				if cls, ok := batch[name]; ok {
					resolved := domain.Classification{Type: cls.Type, Confidence: domain.Clamp01(cls.Confidence)}
					if !domain.ValidEntityType(string(resolved.Type)) {
						resolved.Type = domain.EntityOther
					}
					c.store(strings.ToLower(strings.TrimSpace(name)), resolved)
					out[name] = resolved
				}
			}
		} else {
			c.logger.Debug("batched llm classification failed", zap.Error(err))
		}
	}

	// Whatever is still unresolved falls through the full tier chain.
	for _, name := range names {
		if _, ok := out[name]; !ok {
			out[name] = c.Classify(ctx, name)
		}
	}
	return out
}

func (c *Classifier) store(key string, cls domain.Classification) {
	c.mu.Lock()
	c.cache[key] = cls
	c.mu.Unlock()
}

var (
	reFilePath   = regexp.MustCompile(`^\.{0,2}/?[\w.-]+(/[\w.-]+)+\.\w{1,8}$|^[\w-]+\.(go|py|ts|js|rs|java|rb|c|h|cpp|sql|md|yaml|yml|json|toml)$`)
	reCamelFunc  = regexp.MustCompile(`^[a-z][a-z0-9]*[A-Z]\w*(\(\))?$|^\w+\(\)$|^[a-z_][a-z0-9_]*_[a-z0-9_]+$`)
	reTechSuffix = regexp.MustCompile(`(?i)(db|sql|api|sdk|js|\.io|lang|kit|ql)$`)
	reLocSuffix  = regexp.MustCompile(`(?i)(city|valley|island|beach|county|bay|port|ville|town|land)$`)
	reTwoToken   = regexp.MustCompile(`^[A-Z][a-z]+\s+[A-Z][a-z]+$|^(Dr|Mr|Mrs|Ms|Prof)\.\s+[A-Z][a-z]+(\s+[A-Z][a-z]+)*$`)
)

// Heuristic is the final-fallback type assignment used when no other tier
// is available.
func Heuristic(name string) domain.EntityType {
	trimmed := strings.TrimSpace(name)
	switch {
	case reFilePath.MatchString(trimmed):
		return domain.EntityFile
	case reCamelFunc.MatchString(trimmed):
		return domain.EntityFunction
	case reTechSuffix.MatchString(trimmed):
		return domain.EntityTechnology
	case reTwoToken.MatchString(trimmed) && !reLocSuffix.MatchString(trimmed):
		return domain.EntityPerson
	default:
		return domain.EntityOther
	}
}
