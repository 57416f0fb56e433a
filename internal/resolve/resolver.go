// Package resolve deduplicates entity names against a tenant's existing
// entities: exact match, then Levenshtein shortlist, then an optional
// cross-encoder rerank over the shortlist.
package resolve

import (
	"context"
	"sort"

	"github.com/adverant/nexus-memory/internal/domain"
	"go.uber.org/zap"
)

// AutoMergeThreshold is the stricter bar for merging a mention into an
// existing entity without asking.
const AutoMergeThreshold = 0.9

// levenshteinFloor keeps only reasonably close candidates in phase 2.
const levenshteinFloor = 0.6

// EntitySource lists a tenant's existing entities, most-mentioned first.
type EntitySource interface {
	ListEntities(ctx context.Context, tenant domain.TenantContext, limit int) ([]domain.ExtractedEntity, error)
}

// Match is one resolution candidate.
type Match struct {
	Entity     domain.ExtractedEntity `json:"entity"`
	Similarity float64                `json:"similarity"`
	Phase      string                 `json:"phase"`
}

// Options bound the candidate window and the rerank shortlist. Both are
// performance knobs, not correctness ones.
type Options struct {
	EntityWindow int
	ShortlistMax int
}

func (o Options) withDefaults() Options {
	if o.EntityWindow <= 0 {
		o.EntityWindow = 500
	}
	if o.ShortlistMax <= 0 {
		o.ShortlistMax = 30
	}
	return o
}

type Resolver struct {
	source EntitySource
	rerank domain.RerankClient
	opts   Options
	logger *zap.Logger
}

func New(source EntitySource, rerank domain.RerankClient, opts Options, logger *zap.Logger) *Resolver {
	return &Resolver{source: source, rerank: rerank, opts: opts.withDefaults(), logger: logger}
}

// Resolve finds existing entities matching the candidate name, filtered by
// threshold and sorted by similarity descending.
func (r *Resolver) Resolve(ctx context.Context, name string, tenant domain.TenantContext, threshold float64) ([]Match, error) {
	existing, err := r.source.ListEntities(ctx, tenant, r.opts.EntityWindow)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}

	canonical := domain.CanonicalName(name)

	var matches []Match
	for _, ent := range existing {
		if domain.CanonicalName(ent.Name) == canonical {
			matches = append(matches, Match{Entity: ent, Similarity: 1.0, Phase: "exact"})
			continue
		}
		matched := false
		for _, alias := range ent.Aliases {
			if domain.CanonicalName(alias) == canonical {
				matches = append(matches, Match{Entity: ent, Similarity: 1.0, Phase: "exact"})
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if sim := Similarity(canonical, domain.CanonicalName(ent.Name)); sim >= levenshteinFloor {
			matches = append(matches, Match{Entity: ent, Similarity: sim, Phase: "levenshtein"})
		}
	}

	// Rerank only a useful shortlist: reranking a single exact hit or a
	// huge window wastes a network call.
	if r.rerank != nil && len(matches) >= 1 && len(matches) < r.opts.ShortlistMax {
		r.rerankShortlist(ctx, name, matches)
	}

	filtered := matches[:0]
	for _, m := range matches {
		if m.Similarity >= threshold {
			filtered = append(filtered, m)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Similarity > filtered[j].Similarity
	})
	return filtered, nil
}

// rerankShortlist asks the cross-encoder to score the candidate against
// each shortlist name; the rerank score overwrites the similarity only
// when it is higher.
func (r *Resolver) rerankShortlist(ctx context.Context, name string, matches []Match) {
	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = m.Entity.Name
	}
	results, err := r.rerank.Rerank(ctx, name, docs, len(docs))
	if err != nil {
		r.logger.Debug("rerank failed, keeping levenshtein similarities", zap.Error(err))
		return
	}
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(matches) {
			continue
		}
		if score := domain.Clamp01(res.Score); score > matches[res.Index].Similarity {
			matches[res.Index].Similarity = score
			matches[res.Index].Phase = "rerank"
		}
	}
}

// AutoMerge returns the best match when it clears the auto-merge bar.
func AutoMerge(matches []Match) (*Match, bool) {
	if len(matches) == 0 {
		return nil, false
	}
	if matches[0].Similarity >= AutoMergeThreshold {
		return &matches[0], true
	}
	return nil, false
}

// MergedSalience averages the existing salience with the new mention's.
func MergedSalience(existing, incoming float64) float64 {
	return domain.Clamp01((existing + incoming) / 2)
}
