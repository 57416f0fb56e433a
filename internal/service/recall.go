package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/extract"
	"github.com/adverant/nexus-memory/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResponseLevel is the disclosure tier controlling per-episode token cost.
type ResponseLevel string

const (
	LevelSummary ResponseLevel = "summary"
	LevelMedium  ResponseLevel = "medium"
	LevelFull    ResponseLevel = "full"
)

const (
	defaultMaxResults = 10
	defaultMaxTokens  = 4000

	// candidateMultiplier over-fetches so scoring and budgeting have slack.
	candidateMultiplier = 3

	// rerankCap bounds the rerank shortlist regardless of max_results.
	rerankCap = 30

	// temporalContextSpan is how many neighbors each side of the top episode
	// get summarized into temporal context.
	temporalContextSpan = 3

	// textFallbackScore is the flat similarity assigned to substring-matched
	// rows in the last-resort relational lane.
	textFallbackScore = 0.3
)

// RecallOptions carries the configurable thresholds.
type RecallOptions struct {
	EpisodicScoreThreshold float64
	UnifiedScoreThreshold  float64
	MaxEntitiesPerQuery    int
}

func (o RecallOptions) withDefaults() RecallOptions {
	if o.EpisodicScoreThreshold <= 0 {
		o.EpisodicScoreThreshold = 0.5
	}
	if o.UnifiedScoreThreshold <= 0 {
		o.UnifiedScoreThreshold = 0.15
	}
	if o.MaxEntitiesPerQuery <= 0 {
		o.MaxEntitiesPerQuery = 50
	}
	return o
}

// RecallService answers queries: vector search, graph adjacency, hybrid
// scoring, optional rerank, and token-budgeted assembly.
type RecallService struct {
	graph      domain.GraphStore
	vector     domain.VectorStore
	relational domain.RelationalStore
	embedder   domain.EmbeddingClient
	rerank     domain.RerankClient
	opts       RecallOptions
	logger     *zap.Logger

	now func() time.Time
}

func NewRecallService(
	graph domain.GraphStore,
	vector domain.VectorStore,
	relational domain.RelationalStore,
	embedder domain.EmbeddingClient,
	rerank domain.RerankClient,
	opts RecallOptions,
	logger *zap.Logger,
) *RecallService {
	return &RecallService{
		graph:      graph,
		vector:     vector,
		relational: relational,
		embedder:   embedder,
		rerank:     rerank,
		opts:       opts.withDefaults(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecallEpisodesRequest is the recallEpisodes input.
type RecallEpisodesRequest struct {
	Query         string
	TypeFilter    []domain.EpisodeType
	EntityFilter  []string
	TimeStart     *time.Time
	TimeEnd       *time.Time
	MaxResults    int
	ResponseLevel ResponseLevel
	MaxTokens     int
	Weights       *domain.ScoringWeights
	Tenant        domain.TenantContext
}

// EpisodeResult is one recalled episode shaped to the response level.
type EpisodeResult struct {
	ID                uuid.UUID                 `json:"id"`
	Type              domain.EpisodeType        `json:"type"`
	Content           string                    `json:"content,omitempty"`
	Summary           string                    `json:"summary,omitempty"`
	Timestamp         time.Time                 `json:"timestamp"`
	Importance        float64                   `json:"importance"`
	Score             domain.HybridScore        `json:"score"`
	Entities          []domain.ExtractedEntity  `json:"entities,omitempty"`
	EntityNames       []string                  `json:"entity_names,omitempty"`
	Facts             []domain.ExtractedFact    `json:"facts,omitempty"`
	ConnectedEpisodes []domain.ConnectedEpisode `json:"connected_episodes,omitempty"`
}

// TemporalNeighbor is a compact before/after summary around the top hit.
type TemporalNeighbor struct {
	ID        uuid.UUID `json:"id"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
	Position  string    `json:"position"`
}

// RecallEpisodesResult is the recallEpisodes output.
type RecallEpisodesResult struct {
	Episodes           []EpisodeResult       `json:"episodes"`
	TemporalContext    []TemporalNeighbor    `json:"temporal_context,omitempty"`
	TotalCount         int                   `json:"totalCount"`
	ReturnedCount      int                   `json:"returnedCount"`
	EstimatedTokens    int                   `json:"estimatedTokens"`
	ResponseLevel      ResponseLevel         `json:"responseLevel"`
	TokenLimitReached  bool                  `json:"tokenLimitReached"`
	QueryEntities      []string              `json:"query_entities"`
	ScoringWeightsUsed domain.ScoringWeights `json:"scoring_weights_used"`
	TokenBudget        BudgetStats           `json:"token_budget"`
	Degraded           string                `json:"degraded,omitempty"`
}

type candidate struct {
	episode  domain.Episode
	adjacent *domain.AdjacentContext
	score    domain.HybridScore
}

func (s *RecallService) RecallEpisodes(ctx context.Context, req RecallEpisodesRequest) (*RecallEpisodesResult, error) {
	if err := req.Tenant.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.ErrInvalidQuery
	}
	if req.MaxResults <= 0 {
		req.MaxResults = defaultMaxResults
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	switch req.ResponseLevel {
	case LevelSummary, LevelMedium, LevelFull:
	default:
		req.ResponseLevel = LevelMedium
	}

	budget := NewTokenBudget(req.MaxTokens, s.logger)
	queryEntities := extract.QueryEntities(req.Query, s.opts.MaxEntitiesPerQuery)

	weights := domain.DefaultScoringWeights()
	if req.Weights != nil {
		weights = weights.Merge(*req.Weights)
	}
	weights = weights.Normalize()

	candidates, degraded := s.fetchCandidates(ctx, &req)
	candidates = s.applyFilters(candidates, &req)

	for i := range candidates {
		s.hydrate(ctx, &candidates[i], req.Tenant)
		s.scoreCandidate(&candidates[i], queryEntities, weights)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score.FinalScore > candidates[j].score.FinalScore
	})

	candidates = s.maybeRerank(ctx, req.Query, req.MaxResults, candidates)

	result := s.assemble(budget, candidates, &req)
	result.QueryEntities = queryEntities
	result.ScoringWeightsUsed = weights
	result.Degraded = degraded
	return result, nil
}

// fetchCandidates tries the vector lane first, then degrades: graph
// text-bucket search, then relational substring search, then empty.
func (s *RecallService) fetchCandidates(ctx context.Context, req *RecallEpisodesRequest) ([]candidate, string) {
	fetch := req.MaxResults * candidateMultiplier

	vec, err := s.embedder.Embed(ctx, req.Query, domain.InputQuery)
	if err == nil {
		matches, verr := s.vector.Search(ctx, domain.CollectionMemories, vec,
			domain.TenantVectorFilter(req.Tenant), fetch, s.opts.EpisodicScoreThreshold)
		if verr == nil {
			var out []candidate
			for _, m := range matches {
				ep, gerr := s.graph.GetEpisode(ctx, m.PointID, req.Tenant)
				if gerr != nil {
					continue
				}
				if ep.Consolidated {
					continue
				}
				c := candidate{episode: *ep}
				c.score.VectorSimilarity = m.Score
				out = append(out, c)
			}
			return out, ""
		}
		s.logger.Warn("vector search failed, degrading to graph text match", zap.Error(verr))
	} else {
		s.logger.Warn("query embedding failed, degrading to graph text match", zap.Error(err))
	}
	metrics.RecallDegradations.WithLabelValues("vector").Inc()

	scored, gerr := s.graph.SearchEpisodesByText(ctx, req.Query, req.Tenant, fetch)
	if gerr == nil {
		var out []candidate
		for _, se := range scored {
			if se.Consolidated {
				continue
			}
			c := candidate{episode: se.Episode}
			c.score.VectorSimilarity = se.Score
			out = append(out, c)
		}
		return out, "vector_unavailable"
	}
	s.logger.Warn("graph text search failed, degrading to relational substring", zap.Error(gerr))
	metrics.RecallDegradations.WithLabelValues("graph_text").Inc()

	records, rerr := s.relational.SearchText(ctx, req.Query, req.Tenant, fetch)
	if rerr == nil {
		var out []candidate
		for _, rec := range records {
			c := candidate{episode: domain.Episode{
				ID:         rec.ID,
				Type:       domain.EpisodeObservation,
				Content:    rec.Content,
				Importance: rec.Importance,
				Timestamp:  rec.CreatedAt,
				Tenant:     rec.Tenant,
			}}
			c.score.VectorSimilarity = textFallbackScore
			out = append(out, c)
		}
		return out, "graph_unavailable"
	}
	s.logger.Error("all recall lanes failed", zap.Error(rerr))
	metrics.RecallDegradations.WithLabelValues("text").Inc()
	return nil, "all_lanes_unavailable"
}

func (s *RecallService) applyFilters(candidates []candidate, req *RecallEpisodesRequest) []candidate {
	if len(req.TypeFilter) == 0 && len(req.EntityFilter) == 0 && req.TimeStart == nil && req.TimeEnd == nil {
		return candidates
	}
	types := make(map[domain.EpisodeType]bool, len(req.TypeFilter))
	for _, t := range req.TypeFilter {
		types[t] = true
	}
	out := candidates[:0]
	for _, c := range candidates {
		if len(types) > 0 && !types[c.episode.Type] {
			continue
		}
		if req.TimeStart != nil && c.episode.Timestamp.Before(*req.TimeStart) {
			continue
		}
		if req.TimeEnd != nil && c.episode.Timestamp.After(*req.TimeEnd) {
			continue
		}
		if len(req.EntityFilter) > 0 && !mentionsAny(c.episode.Content, req.EntityFilter) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func mentionsAny(content string, names []string) bool {
	lower := strings.ToLower(content)
	for _, name := range names {
		if strings.Contains(lower, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

func (s *RecallService) hydrate(ctx context.Context, c *candidate, tenant domain.TenantContext) {
	adj, err := s.graph.FetchAdjacent(ctx, c.episode.ID, tenant)
	if err != nil {
		s.logger.Debug("adjacent fetch failed", zap.String("episode_id", c.episode.ID.String()), zap.Error(err))
		return
	}
	c.adjacent = adj
}

// EntityRelevance scores query-entity overlap: 1 point per exact
// case-insensitive match, 0.5 per substring match, over |Q|.
func EntityRelevance(queryEntities []string, episodeEntities []domain.ExtractedEntity) float64 {
	if len(queryEntities) == 0 {
		return 0.5
	}
	if len(episodeEntities) == 0 {
		return 0.1
	}
	var points float64
	for _, q := range queryEntities {
		qc := domain.CanonicalName(q)
		best := 0.0
		for _, e := range episodeEntities {
			ec := domain.CanonicalName(e.Name)
			if ec == qc {
				best = 1.0
				break
			}
			if strings.Contains(ec, qc) || strings.Contains(qc, ec) {
				if best < 0.5 {
					best = 0.5
				}
			}
		}
		points += best
	}
	return domain.Clamp01(points / float64(len(queryEntities)))
}

func (s *RecallService) scoreCandidate(c *candidate, queryEntities []string, weights domain.ScoringWeights) {
	var episodeEntities []domain.ExtractedEntity
	if c.adjacent != nil {
		episodeEntities = c.adjacent.Entities
	}
	c.score.EntityRelevance = EntityRelevance(queryEntities, episodeEntities)
	c.score.RecencyFactor = domain.RecencyFactor(s.now().Sub(c.episode.Timestamp))
	c.score.Importance = c.episode.Importance
	c.score.Compute(weights)
}

// maybeRerank runs the cross-encoder over the shortlist and re-sorts.
// Rerank scores replace final scores on reranked items only.
func (s *RecallService) maybeRerank(ctx context.Context, query string, maxResults int, candidates []candidate) []candidate {
	if s.rerank == nil || len(candidates) < 2 {
		return candidates
	}
	shortlist := maxResults * candidateMultiplier
	if shortlist > rerankCap {
		shortlist = rerankCap
	}
	if shortlist > len(candidates) {
		shortlist = len(candidates)
	}

	docs := make([]string, shortlist)
	for i := 0; i < shortlist; i++ {
		docs[i] = candidates[i].episode.Content
	}
	results, err := s.rerank.Rerank(ctx, query, docs, shortlist)
	if err != nil {
		s.logger.Warn("rerank failed, keeping hybrid order", zap.Error(err))
		metrics.RecallDegradations.WithLabelValues("rerank").Inc()
		return candidates
	}
	for _, r := range results {
		if r.Index < 0 || r.Index >= shortlist {
			continue
		}
		candidates[r.Index].score.FinalScore = domain.Clamp01(r.Score)
	}
	sort.SliceStable(candidates[:shortlist], func(i, j int) bool {
		return candidates[i].score.FinalScore > candidates[j].score.FinalScore
	})
	return candidates
}

func (s *RecallService) assemble(budget *TokenBudget, candidates []candidate, req *RecallEpisodesRequest) *RecallEpisodesResult {
	result := &RecallEpisodesResult{
		ResponseLevel: req.ResponseLevel,
		TotalCount:    len(candidates),
	}

	for i := range candidates {
		if len(result.Episodes) >= req.MaxResults {
			break
		}
		shaped := shapeEpisode(&candidates[i], req.ResponseLevel)
		cost := EstimateTokens(shaped)
		if !budget.Allocate("episodes", cost) {
			result.TokenLimitReached = true
			break
		}
		result.EstimatedTokens += cost
		result.Episodes = append(result.Episodes, shaped)
	}
	result.ReturnedCount = len(result.Episodes)

	if len(result.Episodes) > 0 && !budget.IsExhausted() {
		neighbors := temporalContext(&candidates[0])
		cost := EstimateTokens(neighbors)
		if len(neighbors) > 0 && budget.Allocate("temporal_context", cost) {
			result.TemporalContext = neighbors
			result.EstimatedTokens += cost
		}
	}
	result.TokenBudget = budget.Stats()
	return result
}

func shapeEpisode(c *candidate, level ResponseLevel) EpisodeResult {
	er := EpisodeResult{
		ID:         c.episode.ID,
		Type:       c.episode.Type,
		Timestamp:  c.episode.Timestamp,
		Importance: c.episode.Importance,
		Score:      c.score,
	}

	switch level {
	case LevelFull:
		er.Content = c.episode.Content
		er.Summary = c.episode.Summary
		if c.adjacent != nil {
			er.Entities = c.adjacent.Entities
			er.Facts = topFacts(c.adjacent.Facts, 5)
			er.ConnectedEpisodes = c.adjacent.Connected
		}
	case LevelMedium:
		er.Content = truncateContent(c.episode.Content, 500)
		er.Summary = c.episode.Summary
		if c.adjacent != nil {
			er.Entities = topEntities(c.adjacent.Entities, 10)
			er.Facts = topFacts(c.adjacent.Facts, 5)
		}
	default: // summary
		if c.episode.Summary != "" {
			er.Summary = c.episode.Summary
		} else {
			er.Summary = truncateContent(c.episode.Content, 150)
		}
		if c.adjacent != nil {
			for _, e := range topEntities(c.adjacent.Entities, 5) {
				er.EntityNames = append(er.EntityNames, e.Name)
			}
		}
	}
	return er
}

func topEntities(entities []domain.ExtractedEntity, n int) []domain.ExtractedEntity {
	if len(entities) <= n {
		return entities
	}
	return entities[:n]
}

func topFacts(facts []domain.ExtractedFact, n int) []domain.ExtractedFact {
	if len(facts) <= n {
		return facts
	}
	return facts[:n]
}

func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// temporalContext summarizes up to 3 neighbors on each side of the top hit.
func temporalContext(c *candidate) []TemporalNeighbor {
	if c.adjacent == nil {
		return nil
	}
	var before, after []TemporalNeighbor
	for _, conn := range c.adjacent.Connected {
		if conn.Relation != domain.EdgeTemporal && conn.Relation != domain.EdgeCausal && conn.Relation != domain.EdgeReference {
			continue
		}
		n := TemporalNeighbor{
			ID:        conn.ID,
			Summary:   neighborSummary(&conn.Episode),
			Timestamp: conn.Timestamp,
		}
		if conn.Timestamp.Before(c.episode.Timestamp) {
			n.Position = "before"
			before = append(before, n)
		} else {
			n.Position = "after"
			after = append(after, n)
		}
	}
	if len(before) > temporalContextSpan {
		before = before[:temporalContextSpan]
	}
	if len(after) > temporalContextSpan {
		after = after[:temporalContextSpan]
	}
	return append(before, after...)
}

func neighborSummary(ep *domain.Episode) string {
	if ep.Summary != "" {
		return ep.Summary
	}
	return truncateContent(ep.Content, 120)
}

var rePageAnchor = regexp.MustCompile(`(?i)\bpage\s+(\d+)\b`)

// RecallMemoriesRequest is the recallMemories input.
type RecallMemoriesRequest struct {
	Query  string
	Limit  int
	Rerank bool
	Tenant domain.TenantContext
}

// MemoryResult is one recalled memory or document chunk.
type MemoryResult struct {
	ID             uuid.UUID      `json:"id"`
	Content        string         `json:"content"`
	RelevanceScore float64        `json:"relevanceScore"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RecallMemories searches the unified collection (memories + document
// chunks). Page-anchor queries bypass similarity entirely.
func (s *RecallService) RecallMemories(ctx context.Context, req RecallMemoriesRequest) ([]MemoryResult, error) {
	if err := req.Tenant.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.ErrInvalidQuery
	}
	if req.Limit <= 0 {
		req.Limit = defaultMaxResults
	}

	if m := rePageAnchor.FindStringSubmatch(req.Query); m != nil {
		page, _ := strconv.Atoi(m[1])
		return s.recallPage(ctx, req, page)
	}

	vec, err := s.embedder.Embed(ctx, req.Query, domain.InputQuery)
	if err != nil {
		return s.recallMemoriesText(ctx, req)
	}

	matches, err := s.vector.Search(ctx, domain.CollectionUnified, vec,
		domain.TenantVectorFilter(req.Tenant), req.Limit*candidateMultiplier, s.opts.UnifiedScoreThreshold)
	if err != nil {
		s.logger.Warn("unified vector search failed, degrading to substring", zap.Error(err))
		metrics.RecallDegradations.WithLabelValues("vector").Inc()
		return s.recallMemoriesText(ctx, req)
	}

	out := make([]MemoryResult, 0, len(matches))
	for _, match := range matches {
		content, _ := match.Payload["content"].(string)
		out = append(out, MemoryResult{
			ID:             match.PointID,
			Content:        content,
			RelevanceScore: match.Score,
			Metadata:       match.Payload,
		})
	}

	if req.Rerank && s.rerank != nil && len(out) >= 2 {
		out = s.rerankMemories(ctx, req.Query, out)
	}
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (s *RecallService) rerankMemories(ctx context.Context, query string, results []MemoryResult) []MemoryResult {
	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.Content
	}
	scores, err := s.rerank.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		s.logger.Warn("memory rerank failed, keeping vector order", zap.Error(err))
		return results
	}
	for _, r := range scores {
		if r.Index >= 0 && r.Index < len(results) {
			results[r.Index].RelevanceScore = domain.Clamp01(r.Score)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	return results
}

// recallPage serves "page N" queries with a strict chunk filter and no
// score threshold.
func (s *RecallService) recallPage(ctx context.Context, req RecallMemoriesRequest, page int) ([]MemoryResult, error) {
	filter := domain.TenantVectorFilter(req.Tenant)
	filter.Must = append(filter.Must,
		domain.FieldMatch{Key: "content_type", Value: string(domain.ContentTypeDocumentChunk)},
		domain.FieldMatch{Key: "page_number", Value: page},
	)

	// The filter does the work; a zero vector plus threshold 0 returns
	// every chunk on the page.
	matches, err := s.vector.Search(ctx, domain.CollectionUnified, make([]float32, domain.EmbeddingDim), filter, req.Limit, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: page search: %v", domain.ErrStoreUnavailable, err)
	}
	if len(matches) == 0 {
		return []MemoryResult{{
			Content:        fmt.Sprintf("No results found for page %d", page),
			RelevanceScore: 0,
		}}, nil
	}
	out := make([]MemoryResult, 0, len(matches))
	for _, match := range matches {
		content, _ := match.Payload["content"].(string)
		out = append(out, MemoryResult{ID: match.PointID, Content: content, RelevanceScore: 1.0, Metadata: match.Payload})
	}
	return out, nil
}

func (s *RecallService) recallMemoriesText(ctx context.Context, req RecallMemoriesRequest) ([]MemoryResult, error) {
	records, err := s.relational.SearchText(ctx, req.Query, req.Tenant, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: text fallback: %v", domain.ErrStoreUnavailable, err)
	}
	out := make([]MemoryResult, 0, len(records))
	for _, rec := range records {
		out = append(out, MemoryResult{
			ID:             rec.ID,
			Content:        rec.Content,
			RelevanceScore: textFallbackScore,
			Metadata:       rec.Metadata,
		})
	}
	return out, nil
}
