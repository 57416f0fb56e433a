package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/extract"
	"github.com/adverant/nexus-memory/internal/metrics"
	"github.com/adverant/nexus-memory/internal/resolve"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// defaultEpisodeImportance applies when the caller supplies none.
	defaultEpisodeImportance = 0.5

	// resolveThreshold is the minimum similarity for a resolution match to
	// be considered at all; auto-merge applies its own stricter bar.
	resolveThreshold = 0.6
)

// EpisodeService ingests episodes: dedup, extraction, resolution, embedding,
// and graph edges. Graph writes run sequentially; the underlying session is
// not safe for parallel writes.
type EpisodeService struct {
	graph    domain.GraphStore
	vector   domain.VectorStore
	embedder domain.EmbeddingClient
	extract  *extract.Extractor
	resolver *resolve.Resolver
	logger   *zap.Logger

	now func() time.Time
}

func NewEpisodeService(
	graph domain.GraphStore,
	vector domain.VectorStore,
	embedder domain.EmbeddingClient,
	extractor *extract.Extractor,
	resolver *resolve.Resolver,
	logger *zap.Logger,
) *EpisodeService {
	return &EpisodeService{
		graph:    graph,
		vector:   vector,
		embedder: embedder,
		extract:  extractor,
		resolver: resolver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StoreEpisodeRequest is the storeEpisode input.
type StoreEpisodeRequest struct {
	Content       string
	Type          domain.EpisodeType
	Summary       string
	Importance    *float64
	InteractionID string
	Metadata      map[string]any
	Tenant        domain.TenantContext
}

// StoreEpisodeResult is the storeEpisode outcome.
type StoreEpisodeResult struct {
	EpisodeID         uuid.UUID `json:"episode_id"`
	Duplicate         bool      `json:"duplicate,omitempty"`
	ContentHash       string    `json:"content_hash"`
	EntitiesExtracted int       `json:"entities_extracted"`
	FactsExtracted    int       `json:"facts_extracted"`
	EdgesCreated      int       `json:"edges_created"`
	HasEmbedding      bool      `json:"has_embedding"`
}

func (s *EpisodeService) StoreEpisode(ctx context.Context, req StoreEpisodeRequest) (*StoreEpisodeResult, error) {
	if err := req.Tenant.Validate(); err != nil {
		return nil, err
	}
	if !domain.ValidEpisodeType(string(req.Type)) {
		return nil, fmt.Errorf("%w: unknown episode type %q", domain.ErrInvalidContent, req.Type)
	}
	normalized := NormalizeContent(req.Content)
	if len(normalized) < domain.MinContentLength {
		return nil, fmt.Errorf("%w: content shorter than %d chars after normalization", domain.ErrInvalidContent, domain.MinContentLength)
	}
	if len(normalized) > domain.MaxContentLength {
		normalized = normalized[:domain.MaxContentLength]
	}
	if req.Summary != "" && len(req.Summary) > domain.MaxSummaryLength {
		req.Summary = req.Summary[:domain.MaxSummaryLength]
	}

	hash := ContentHash(normalized)

	// Dedup pre-check: an identical episode in the same writer lane returns
	// the stored id with no side effects.
	if existing, err := s.graph.FindEpisodeByHash(ctx, hash, req.Tenant); err == nil {
		metrics.Duplicates.Inc()
		return &StoreEpisodeResult{
			EpisodeID:    existing.ID,
			Duplicate:    true,
			ContentHash:  hash,
			HasEmbedding: existing.HasEmbedding,
		}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: dedup check: %v", domain.ErrStoreUnavailable, err)
	}

	importance := defaultEpisodeImportance
	if req.Importance != nil {
		if *req.Importance < 0 || *req.Importance > 1 {
			return nil, domain.ErrInvalidImportance
		}
		importance = *req.Importance
	}

	now := s.now()
	ep := &domain.Episode{
		ID:            uuid.New(),
		Type:          req.Type,
		Content:       normalized,
		Summary:       req.Summary,
		ContentHash:   hash,
		Importance:    importance,
		DecayRate:     domain.DeriveDecayRate(importance),
		InteractionID: req.InteractionID,
		Timestamp:     now,
		Metadata:      req.Metadata,
		Tenant:        req.Tenant,
	}

	// Extraction runs before embedding so the no-embedding degradation still
	// carries entities and facts.
	extracted, err := s.extract.Extract(ctx, normalized, ep.ID, req.Tenant, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	vec, embErr := s.embedder.Embed(ctx, normalized, domain.InputDocument)
	if embErr != nil {
		s.logger.Warn("episode embedding unavailable, storing without",
			zap.String("episode_id", ep.ID.String()),
			zap.Error(embErr))
		metrics.RecallDegradations.WithLabelValues("write_no_embedding").Inc()
	}
	ep.HasEmbedding = embErr == nil

	if err := s.graph.CreateEpisode(ctx, ep); err != nil {
		return nil, fmt.Errorf("%w: create episode: %v", domain.ErrStoreUnavailable, err)
	}

	if ep.HasEmbedding {
		payload := vectorPayload(normalized, domain.ContentTypeMemory, req.Tenant, nil, 0)
		payload["episode_type"] = string(req.Type)
		payload["importance"] = importance
		payload["timestamp"] = now.Format(time.RFC3339)
		if err := s.vector.Upsert(ctx, domain.CollectionMemories, []domain.VectorRecord{{
			PointID: ep.ID,
			Vector:  vec,
			Payload: payload,
		}}); err != nil {
			s.logger.Warn("episode vector upsert failed, graph remains source of truth",
				zap.String("episode_id", ep.ID.String()),
				zap.Error(err))
			ep.HasEmbedding = false
		}
	}

	entityCount := s.persistEntities(ctx, ep, extracted.Entities)
	factCount := s.persistFacts(ctx, ep.ID, extracted.Facts, req.Tenant)
	edges := s.createEdges(ctx, ep)

	return &StoreEpisodeResult{
		EpisodeID:         ep.ID,
		ContentHash:       hash,
		EntitiesExtracted: entityCount,
		FactsExtracted:    factCount,
		EdgesCreated:      edges,
		HasEmbedding:      ep.HasEmbedding,
	}, nil
}

// persistEntities resolves and writes entities sequentially. When a mention
// auto-merges into an existing entity, both the MENTIONS edge and the
// episode's entity list carry the existing id.
func (s *EpisodeService) persistEntities(ctx context.Context, ep *domain.Episode, entities []domain.ExtractedEntity) int {
	count := 0
	for i := range entities {
		ent := entities[i]

		matches, err := s.resolver.Resolve(ctx, ent.Name, ep.Tenant, resolveThreshold)
		if err != nil {
			s.logger.Warn("entity resolution failed, storing as new",
				zap.String("name", ent.Name), zap.Error(err))
		}

		if match, ok := resolve.AutoMerge(matches); ok && match.Entity.ID != uuid.Nil {
			merged := resolve.MergedSalience(match.Entity.Salience, ent.Salience)
			if err := s.graph.MergeMention(ctx, match.Entity.ID, ep.Tenant, ent.Name, merged); err != nil {
				s.logger.Warn("mention merge failed", zap.String("name", ent.Name), zap.Error(err))
				continue
			}
			if err := s.graph.LinkMention(ctx, ep.ID, match.Entity.ID); err != nil {
				s.logger.Warn("mention link failed", zap.String("name", ent.Name), zap.Error(err))
			}
			ent.ID = match.Entity.ID
			ent.Merged = true
			ep.Entities = append(ep.Entities, ent)
			count++
			continue
		}

		if err := s.graph.UpsertEntity(ctx, &ent); err != nil {
			s.logger.Warn("entity upsert failed", zap.String("name", ent.Name), zap.Error(err))
			continue
		}
		if err := s.graph.LinkMention(ctx, ep.ID, ent.ID); err != nil {
			s.logger.Warn("mention link failed", zap.String("name", ent.Name), zap.Error(err))
		}
		ep.Entities = append(ep.Entities, ent)
		count++
	}
	return count
}

func (s *EpisodeService) persistFacts(ctx context.Context, episodeID uuid.UUID, facts []domain.ExtractedFact, tenant domain.TenantContext) int {
	count := 0
	for i := range facts {
		fact := facts[i]
		fact.SourceEpisodeID = episodeID
		fact.Tenant = tenant
		if err := s.graph.CreateFact(ctx, &fact); err != nil {
			s.logger.Warn("fact persist failed", zap.String("fact", fact.Content()), zap.Error(err))
			continue
		}
		count++
	}
	return count
}

// createEdges builds the temporal chain and, for system responses, the
// causal link back to the matching user query.
func (s *EpisodeService) createEdges(ctx context.Context, ep *domain.Episode) int {
	edges := 0

	prior, err := s.graph.MostRecentEpisode(ctx, ep.Tenant, ep.Timestamp)
	if err == nil && prior.ID != ep.ID {
		edge := &domain.Edge{
			SourceID: prior.ID,
			TargetID: ep.ID,
			Type:     domain.EdgeTemporal,
			Weight:   domain.TemporalEdgeWeight,
		}
		if err := s.graph.CreateEdge(ctx, edge); err != nil {
			s.logger.Warn("temporal edge failed", zap.Error(err))
		} else {
			edges++
		}
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("temporal anchor lookup failed", zap.Error(err))
	}

	if ep.Type == domain.EpisodeSystemResponse && ep.InteractionID != "" {
		query, err := s.graph.FindUserQueryByInteraction(ctx, ep.Tenant, ep.InteractionID)
		if err == nil {
			edge := &domain.Edge{
				SourceID: query.ID,
				TargetID: ep.ID,
				Type:     domain.EdgeCausal,
				Weight:   domain.CausalEdgeWeight,
			}
			if err := s.graph.CreateEdge(ctx, edge); err != nil {
				s.logger.Warn("causal edge failed", zap.Error(err))
			} else {
				edges++
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("causal anchor lookup failed", zap.Error(err))
		}
	}

	return edges
}

func (s *EpisodeService) GetEpisode(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.Episode, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return s.graph.GetEpisode(ctx, id, tenant)
}

func (s *EpisodeService) UpdateImportance(ctx context.Context, id uuid.UUID, importance float64, tenant domain.TenantContext) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	if importance < 0 || importance > 1 {
		return domain.ErrInvalidImportance
	}
	return s.graph.SetImportance(ctx, id, importance, tenant)
}

func (s *EpisodeService) MergeEntities(ctx context.Context, ids []uuid.UUID, tenant domain.TenantContext) (*domain.ExtractedEntity, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: merge needs at least two entity ids", domain.ErrInvalidContent)
	}
	return s.graph.MergeEntities(ctx, ids, tenant)
}

func (s *EpisodeService) ValidateFact(ctx context.Context, id uuid.UUID, isValid bool, tenant domain.TenantContext) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	return s.graph.SetFactValidity(ctx, id, isValid, tenant)
}

// MemoryStats is the getMemoryStats payload.
type MemoryStats struct {
	TotalEpisodes int     `json:"total_episodes"`
	TotalEntities int     `json:"total_entities"`
	TotalFacts    int     `json:"total_facts"`
	AvgImportance float64 `json:"avg_importance"`
	MemoryHealth  string  `json:"memory_health"`
}

func (s *EpisodeService) GetMemoryStats(ctx context.Context, tenant domain.TenantContext) (*MemoryStats, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	stats, err := s.graph.Stats(ctx, tenant)
	if err != nil {
		return nil, err
	}
	health := "healthy"
	if stats.TotalEpisodes > 0 && stats.AvgImportance < 0.2 {
		health = "degraded"
	}
	return &MemoryStats{
		TotalEpisodes: stats.TotalEpisodes,
		TotalEntities: stats.TotalEntities,
		TotalFacts:    stats.TotalFacts,
		AvgImportance: stats.AvgImportance,
		MemoryHealth:  health,
	}, nil
}
