package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore holds the episode graph. Writes are serialized behind a mutex:
// the engine's write paths are sequential by contract and Neo4j sessions are
// not safe for concurrent use anyway.
type Neo4jStore struct {
	driver      neo4j.DriverWithContext
	legacyReads bool
	writeMu     sync.Mutex
}

func NewNeo4jStore(driver neo4j.DriverWithContext, legacyReads bool) *Neo4jStore {
	return &Neo4jStore{driver: driver, legacyReads: legacyReads}
}

func (s *Neo4jStore) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (s *Neo4jStore) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// tenantWhere appends the isolation clause for the given node alias and
// fills params in place.
func (s *Neo4jStore) tenantWhere(alias string, t domain.TenantContext, params map[string]any) string {
	params["tenant_app_id"] = t.AppID
	params["tenant_users"] = t.ReadUserIDs()
	if s.legacyReads {
		params["tenant_companies"] = append([]string{t.CompanyID}, domain.LegacyCompanyIDs...)
		return fmt.Sprintf("%[1]s.company_id IN $tenant_companies AND %[1]s.app_id = $tenant_app_id AND %[1]s.user_id IN $tenant_users", alias)
	}
	params["tenant_company_id"] = t.CompanyID
	return fmt.Sprintf("%[1]s.company_id = $tenant_company_id AND %[1]s.app_id = $tenant_app_id AND %[1]s.user_id IN $tenant_users", alias)
}

func metadataJSON(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(raw)
}

func episodeParams(ep *domain.Episode) map[string]any {
	return map[string]any{
		"id":             ep.ID.String(),
		"type":           string(ep.Type),
		"content":        ep.Content,
		"summary":        ep.Summary,
		"content_hash":   ep.ContentHash,
		"importance":     ep.Importance,
		"decay_rate":     ep.DecayRate,
		"has_embedding":  ep.HasEmbedding,
		"consolidated":   ep.Consolidated,
		"interaction_id": ep.InteractionID,
		"timestamp":      ep.Timestamp,
		"metadata":       metadataJSON(ep.Metadata),
		"company_id":     ep.Tenant.CompanyID,
		"app_id":         ep.Tenant.AppID,
		"user_id":        ep.Tenant.UserID,
		"session_id":     ep.Tenant.SessionID,
	}
}

func nodeString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func nodeFloat(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func nodeBool(props map[string]any, key string) bool {
	v, _ := props[key].(bool)
	return v
}

func nodeTime(props map[string]any, key string) time.Time {
	if v, ok := props[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func episodeFromProps(props map[string]any) domain.Episode {
	ep := domain.Episode{
		Type:          domain.EpisodeType(nodeString(props, "type")),
		Content:       nodeString(props, "content"),
		Summary:       nodeString(props, "summary"),
		ContentHash:   nodeString(props, "content_hash"),
		Importance:    nodeFloat(props, "importance"),
		DecayRate:     nodeFloat(props, "decay_rate"),
		HasEmbedding:  nodeBool(props, "has_embedding"),
		Consolidated:  nodeBool(props, "consolidated"),
		InteractionID: nodeString(props, "interaction_id"),
		Timestamp:     nodeTime(props, "timestamp"),
		Tenant: domain.TenantContext{
			CompanyID: nodeString(props, "company_id"),
			AppID:     nodeString(props, "app_id"),
			UserID:    nodeString(props, "user_id"),
			SessionID: nodeString(props, "session_id"),
		},
	}
	ep.ID, _ = uuid.Parse(nodeString(props, "id"))
	if raw := nodeString(props, "metadata"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &ep.Metadata)
	}
	return ep
}

func entityFromProps(props map[string]any) domain.ExtractedEntity {
	ent := domain.ExtractedEntity{
		Name:            nodeString(props, "name"),
		Type:            domain.EntityType(nodeString(props, "type")),
		Confidence:      nodeFloat(props, "confidence"),
		Salience:        nodeFloat(props, "salience"),
		MentionCount:    int(nodeFloat(props, "mention_count")),
		FirstSeen:       nodeTime(props, "first_seen"),
		LastSeen:        nodeTime(props, "last_seen"),
		Merged:          nodeBool(props, "merged"),
		TemporalType:    domain.TemporalType(nodeString(props, "temporal_type")),
		NormalizedValue: nodeString(props, "normalized_value"),
		Tenant: domain.TenantContext{
			CompanyID: nodeString(props, "company_id"),
			AppID:     nodeString(props, "app_id"),
			UserID:    nodeString(props, "user_id"),
		},
	}
	ent.ID, _ = uuid.Parse(nodeString(props, "id"))
	if aliases, ok := props["aliases"].([]any); ok {
		for _, a := range aliases {
			if as, ok := a.(string); ok {
				ent.Aliases = append(ent.Aliases, as)
			}
		}
	}
	return ent
}

func nodeProps(record *neo4j.Record, key string) (map[string]any, bool) {
	raw, ok := record.Get(key)
	if !ok {
		return nil, false
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return nil, false
	}
	return node.Props, true
}

func (s *Neo4jStore) CreateEpisode(ctx context.Context, ep *domain.Episode) error {
	// MERGE on (content_hash, scope) keeps replays idempotent: a duplicate
	// write returns the stored episode instead of forking the graph.
	params := episodeParams(ep)
	records, err := s.write(ctx, `
		MERGE (e:Episode {content_hash: $content_hash, company_id: $company_id, app_id: $app_id, user_id: $user_id})
		ON CREATE SET e.id = $id, e.type = $type, e.content = $content, e.summary = $summary,
			e.importance = $importance, e.decay_rate = $decay_rate, e.has_embedding = $has_embedding,
			e.consolidated = $consolidated, e.interaction_id = $interaction_id, e.timestamp = $timestamp,
			e.metadata = $metadata, e.session_id = $session_id
		RETURN e`, params)
	if err != nil {
		return fmt.Errorf("create episode: %w", err)
	}
	if len(records) > 0 {
		if props, ok := nodeProps(records[0], "e"); ok {
			stored := episodeFromProps(props)
			ep.ID = stored.ID
			ep.Timestamp = stored.Timestamp
		}
	}
	return nil
}

func (s *Neo4jStore) getEpisodeWhere(ctx context.Context, where string, params map[string]any) (*domain.Episode, error) {
	records, err := s.read(ctx, `MATCH (e:Episode) WHERE `+where+` RETURN e LIMIT 1`, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	props, ok := nodeProps(records[0], "e")
	if !ok {
		return nil, domain.ErrNotFound
	}
	ep := episodeFromProps(props)
	return &ep, nil
}

func (s *Neo4jStore) GetEpisode(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.Episode, error) {
	params := map[string]any{"id": id.String()}
	where := "e.id = $id AND " + s.tenantWhere("e", tenant, params)
	return s.getEpisodeWhere(ctx, where, params)
}

func (s *Neo4jStore) FindEpisodeByHash(ctx context.Context, hash string, tenant domain.TenantContext) (*domain.Episode, error) {
	// Hash dedup is scoped to the writer lane, like the relational store.
	params := map[string]any{
		"hash":       hash,
		"company_id": tenant.CompanyID,
		"app_id":     tenant.AppID,
		"user_id":    tenant.UserID,
	}
	return s.getEpisodeWhere(ctx,
		"e.content_hash = $hash AND e.company_id = $company_id AND e.app_id = $app_id AND e.user_id = $user_id",
		params)
}

// mostRecentEpisodeQuery anchors temporal edges. Consolidated episodes are
// excluded so new episodes never chain onto a summarized predecessor.
const mostRecentEpisodeQuery = `
		MATCH (e:Episode) WHERE %s AND e.timestamp < $before AND e.consolidated = false
		RETURN e ORDER BY e.timestamp DESC LIMIT 1`

func (s *Neo4jStore) MostRecentEpisode(ctx context.Context, tenant domain.TenantContext, before time.Time) (*domain.Episode, error) {
	params := map[string]any{"before": before}
	where := s.tenantWhere("e", tenant, params)
	records, err := s.read(ctx, fmt.Sprintf(mostRecentEpisodeQuery, where), params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	props, _ := nodeProps(records[0], "e")
	ep := episodeFromProps(props)
	return &ep, nil
}

func (s *Neo4jStore) FindUserQueryByInteraction(ctx context.Context, tenant domain.TenantContext, interactionID string) (*domain.Episode, error) {
	params := map[string]any{"interaction_id": interactionID}
	where := s.tenantWhere("e", tenant, params)
	return s.getEpisodeWhere(ctx,
		where+" AND e.type = 'user_query' AND e.interaction_id = $interaction_id",
		params)
}

func (s *Neo4jStore) ListEpisodesBefore(ctx context.Context, tenant domain.TenantContext, before time.Time, limit int) ([]domain.Episode, error) {
	if limit <= 0 {
		limit = 100
	}
	params := map[string]any{"before": before, "limit": limit}
	where := s.tenantWhere("e", tenant, params)
	records, err := s.read(ctx, `
		MATCH (e:Episode) WHERE `+where+` AND e.timestamp < $before AND e.consolidated = false
		RETURN e ORDER BY e.timestamp ASC LIMIT $limit`, params)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Episode, 0, len(records))
	for _, rec := range records {
		if props, ok := nodeProps(rec, "e"); ok {
			out = append(out, episodeFromProps(props))
		}
	}
	return out, nil
}

// validEdgeTypes allowlists relationship labels: Cypher cannot parameterize
// them, so the label is interpolated and must never come from user input.
var validEdgeTypes = map[domain.EdgeType]bool{
	domain.EdgeTemporal:      true,
	domain.EdgeCausal:        true,
	domain.EdgeReference:     true,
	domain.EdgeContradiction: true,
	domain.EdgeElaboration:   true,
	domain.EdgeSummarizedIn:  true,
	domain.EdgeMentions:      true,
	domain.EdgeSimilarTo:     true,
}

func (s *Neo4jStore) CreateEdge(ctx context.Context, e *domain.Edge) error {
	if !validEdgeTypes[e.Type] {
		return fmt.Errorf("invalid edge type %q", e.Type)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.write(ctx, fmt.Sprintf(`
		MATCH (a {id: $source}), (b {id: $target})
		MERGE (a)-[r:%s]->(b)
		ON CREATE SET r.id = $id, r.weight = $weight, r.created_at = $created_at`, e.Type),
		map[string]any{
			"source":     e.SourceID.String(),
			"target":     e.TargetID.String(),
			"id":         e.ID.String(),
			"weight":     e.Weight,
			"created_at": time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("create %s edge: %w", e.Type, err)
	}
	return nil
}

func (s *Neo4jStore) CreateMemoryNode(ctx context.Context, m *domain.Memory) error {
	_, err := s.write(ctx, `
		MERGE (m:Memory {id: $id})
		ON CREATE SET m.content_hash = $content_hash, m.importance = $importance,
			m.timestamp = $timestamp, m.company_id = $company_id, m.app_id = $app_id,
			m.user_id = $user_id, m.session_id = $session_id`,
		map[string]any{
			"id":           m.ID.String(),
			"content_hash": m.ContentHash,
			"importance":   m.Importance,
			"timestamp":    m.Timestamp,
			"company_id":   m.Tenant.CompanyID,
			"app_id":       m.Tenant.AppID,
			"user_id":      m.Tenant.UserID,
			"session_id":   m.Tenant.SessionID,
		})
	if err != nil {
		return fmt.Errorf("create memory node: %w", err)
	}
	return nil
}

func (s *Neo4jStore) LinkSimilar(ctx context.Context, sourceID, targetID uuid.UUID, score float64) error {
	return s.CreateEdge(ctx, &domain.Edge{
		SourceID: sourceID,
		TargetID: targetID,
		Type:     domain.EdgeSimilarTo,
		Weight:   score,
	})
}

func (s *Neo4jStore) UpsertEntity(ctx context.Context, ent *domain.ExtractedEntity) error {
	records, err := s.write(ctx, `
		MERGE (n:Entity {canonical_name: $canonical_name, company_id: $company_id, app_id: $app_id, user_id: $user_id})
		ON CREATE SET n.id = $id, n.name = $name, n.type = $type, n.confidence = $confidence,
			n.salience = $salience, n.mention_count = $mention_count, n.first_seen = $first_seen,
			n.last_seen = $last_seen, n.aliases = $aliases, n.merged = false,
			n.temporal_type = $temporal_type, n.normalized_value = $normalized_value
		ON MATCH SET n.mention_count = n.mention_count + 1, n.last_seen = $last_seen
		RETURN n`,
		map[string]any{
			"canonical_name":   domain.CanonicalName(ent.Name),
			"id":               ent.ID.String(),
			"name":             ent.Name,
			"type":             string(ent.Type),
			"confidence":       ent.Confidence,
			"salience":         ent.Salience,
			"mention_count":    ent.MentionCount,
			"first_seen":       ent.FirstSeen,
			"last_seen":        ent.LastSeen,
			"aliases":          ent.Aliases,
			"temporal_type":    string(ent.TemporalType),
			"normalized_value": ent.NormalizedValue,
			"company_id":       ent.Tenant.CompanyID,
			"app_id":           ent.Tenant.AppID,
			"user_id":          ent.Tenant.UserID,
		})
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	if len(records) > 0 {
		if props, ok := nodeProps(records[0], "n"); ok {
			stored := entityFromProps(props)
			ent.ID = stored.ID
			ent.MentionCount = stored.MentionCount
		}
	}
	return nil
}

func (s *Neo4jStore) MergeMention(ctx context.Context, entityID uuid.UUID, tenant domain.TenantContext, alias string, salience float64) error {
	_, err := s.write(ctx, `
		MATCH (n:Entity {id: $id, company_id: $company_id, app_id: $app_id})
		SET n.mention_count = n.mention_count + 1,
			n.last_seen = $now,
			n.salience = $salience,
			n.aliases = CASE
				WHEN $alias = '' OR $alias = n.name OR $alias IN coalesce(n.aliases, []) THEN coalesce(n.aliases, [])
				ELSE coalesce(n.aliases, []) + $alias
			END`,
		map[string]any{
			"id":         entityID.String(),
			"company_id": tenant.CompanyID,
			"app_id":     tenant.AppID,
			"alias":      alias,
			"salience":   salience,
			"now":        time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("merge mention: %w", err)
	}
	return nil
}

func (s *Neo4jStore) LinkMention(ctx context.Context, episodeID, entityID uuid.UUID) error {
	return s.CreateEdge(ctx, &domain.Edge{
		SourceID: episodeID,
		TargetID: entityID,
		Type:     domain.EdgeMentions,
		Weight:   1.0,
	})
}

func (s *Neo4jStore) ListEntities(ctx context.Context, tenant domain.TenantContext, limit int) ([]domain.ExtractedEntity, error) {
	if limit <= 0 {
		limit = 500
	}
	params := map[string]any{"limit": limit}
	where := s.tenantWhere("n", tenant, params)
	records, err := s.read(ctx, `
		MATCH (n:Entity) WHERE `+where+` AND n.merged = false
		RETURN n ORDER BY n.mention_count DESC LIMIT $limit`, params)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExtractedEntity, 0, len(records))
	for _, rec := range records {
		if props, ok := nodeProps(rec, "n"); ok {
			out = append(out, entityFromProps(props))
		}
	}
	return out, nil
}

// MergeEntities folds the listed entities into the most salient one:
// aliases and mention counts accumulate, MENTIONS edges are rewired, and the
// absorbed nodes are tombstoned rather than deleted.
func (s *Neo4jStore) MergeEntities(ctx context.Context, ids []uuid.UUID, tenant domain.TenantContext) (*domain.ExtractedEntity, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("merge needs at least two entities")
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	params := map[string]any{"ids": idStrs}
	where := s.tenantWhere("n", tenant, params)

	records, err := s.write(ctx, `
		MATCH (n:Entity) WHERE n.id IN $ids AND `+where+`
		WITH n ORDER BY n.salience DESC
		WITH collect(n) AS nodes
		WITH head(nodes) AS primary, tail(nodes) AS rest
		UNWIND rest AS dup
		OPTIONAL MATCH (ep:Episode)-[m:MENTIONS]->(dup)
		FOREACH (_ IN CASE WHEN ep IS NULL THEN [] ELSE [1] END |
			MERGE (ep)-[:MENTIONS]->(primary))
		DELETE m
		WITH DISTINCT primary, dup
		SET primary.aliases = coalesce(primary.aliases, []) +
				[a IN coalesce(dup.aliases, []) + dup.name WHERE NOT a IN coalesce(primary.aliases, []) AND a <> primary.name],
			primary.mention_count = primary.mention_count + dup.mention_count,
			primary.merged = false,
			dup.merged = true,
			dup.merged_into = primary.id
		RETURN primary`, params)
	if err != nil {
		return nil, fmt.Errorf("merge entities: %w", err)
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	props, ok := nodeProps(records[0], "primary")
	if !ok {
		return nil, domain.ErrNotFound
	}
	ent := entityFromProps(props)
	return &ent, nil
}

func (s *Neo4jStore) CreateFact(ctx context.Context, f *domain.ExtractedFact) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	_, err := s.write(ctx, `
		MATCH (e:Episode {id: $episode_id})
		CREATE (fact:Fact {id: $id, subject: $subject, predicate: $predicate, object: $object,
			confidence: $confidence, extracted_at: $extracted_at, is_valid: $is_valid,
			company_id: $company_id, app_id: $app_id, user_id: $user_id})
		CREATE (e)-[:HAS_FACT]->(fact)`,
		map[string]any{
			"episode_id":   f.SourceEpisodeID.String(),
			"id":           f.ID.String(),
			"subject":      f.Subject,
			"predicate":    f.Predicate,
			"object":       f.Object,
			"confidence":   f.Confidence,
			"extracted_at": f.ExtractedAt,
			"is_valid":     f.IsValid,
			"company_id":   f.Tenant.CompanyID,
			"app_id":       f.Tenant.AppID,
			"user_id":      f.Tenant.UserID,
		})
	if err != nil {
		return fmt.Errorf("create fact: %w", err)
	}
	return nil
}

func (s *Neo4jStore) SetFactValidity(ctx context.Context, id uuid.UUID, isValid bool, tenant domain.TenantContext) error {
	records, err := s.write(ctx, `
		MATCH (f:Fact {id: $id, company_id: $company_id, app_id: $app_id})
		SET f.is_valid = $is_valid, f.validated_at = $now
		RETURN f.id`,
		map[string]any{
			"id":         id.String(),
			"company_id": tenant.CompanyID,
			"app_id":     tenant.AppID,
			"is_valid":   isValid,
			"now":        time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("set fact validity: %w", err)
	}
	if len(records) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func factFromProps(props map[string]any) domain.ExtractedFact {
	f := domain.ExtractedFact{
		Subject:     nodeString(props, "subject"),
		Predicate:   nodeString(props, "predicate"),
		Object:      nodeString(props, "object"),
		Confidence:  nodeFloat(props, "confidence"),
		ExtractedAt: nodeTime(props, "extracted_at"),
		IsValid:     nodeBool(props, "is_valid"),
		Tenant: domain.TenantContext{
			CompanyID: nodeString(props, "company_id"),
			AppID:     nodeString(props, "app_id"),
			UserID:    nodeString(props, "user_id"),
		},
	}
	f.ID, _ = uuid.Parse(nodeString(props, "id"))
	return f
}

func (s *Neo4jStore) FetchAdjacent(ctx context.Context, episodeID uuid.UUID, tenant domain.TenantContext) (*domain.AdjacentContext, error) {
	params := map[string]any{"id": episodeID.String()}
	where := s.tenantWhere("e", tenant, params)

	out := &domain.AdjacentContext{}

	entityRecords, err := s.read(ctx, `
		MATCH (e:Episode {id: $id})-[:MENTIONS]->(n:Entity) WHERE `+where+`
		RETURN n ORDER BY n.salience DESC LIMIT 20`, params)
	if err != nil {
		return nil, fmt.Errorf("fetch adjacent entities: %w", err)
	}
	for _, rec := range entityRecords {
		if props, ok := nodeProps(rec, "n"); ok {
			out.Entities = append(out.Entities, entityFromProps(props))
		}
	}

	factRecords, err := s.read(ctx, `
		MATCH (e:Episode {id: $id})-[:HAS_FACT]->(f:Fact) WHERE `+where+` AND f.is_valid = true
		RETURN f ORDER BY f.confidence DESC LIMIT 20`, params)
	if err != nil {
		return nil, fmt.Errorf("fetch adjacent facts: %w", err)
	}
	for _, rec := range factRecords {
		if props, ok := nodeProps(rec, "f"); ok {
			fact := factFromProps(props)
			fact.SourceEpisodeID = episodeID
			out.Facts = append(out.Facts, fact)
		}
	}

	connectedRecords, err := s.read(ctx, `
		MATCH (e:Episode {id: $id})-[r]-(other:Episode) WHERE `+where+`
		RETURN other, type(r) AS relation, r.weight AS weight
		ORDER BY r.weight DESC LIMIT 10`, params)
	if err != nil {
		return nil, fmt.Errorf("fetch connected episodes: %w", err)
	}
	for _, rec := range connectedRecords {
		props, ok := nodeProps(rec, "other")
		if !ok {
			continue
		}
		connected := domain.ConnectedEpisode{Episode: episodeFromProps(props)}
		if rel, ok := rec.Get("relation"); ok {
			if relStr, ok := rel.(string); ok {
				connected.Relation = domain.EdgeType(relStr)
			}
		}
		if w, ok := rec.Get("weight"); ok {
			if wf, ok := w.(float64); ok {
				connected.Weight = wf
			}
		}
		out.Connected = append(out.Connected, connected)
	}

	return out, nil
}

// Text-match score buckets for the fallback lane. Lexical matching can
// never look as confident as a true vector hit.
const (
	textScoreExact      = 0.95
	textScorePhrase     = 0.75
	textScoreAllTokens  = 0.55
	textScoreSummary    = 0.5
	textScoreHalfTokens = 0.4
	textScoreAnyToken   = 0.3
	textScoreFloor      = 0.2
)

func textMatchScore(query string, ep *domain.Episode) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	content := strings.ToLower(ep.Content)
	summary := strings.ToLower(ep.Summary)

	if content == q {
		return textScoreExact
	}
	if strings.Contains(content, q) {
		return textScorePhrase
	}

	tokens := strings.Fields(q)
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(content, tok) {
			hits++
		}
	}
	switch {
	case hits == len(tokens):
		return textScoreAllTokens
	case summary != "" && strings.Contains(summary, q):
		return textScoreSummary
	case hits*2 >= len(tokens):
		return textScoreHalfTokens
	case hits > 0:
		return textScoreAnyToken
	case summary != "" && strings.Contains(summary, tokens[0]):
		return textScoreFloor
	}
	return 0
}

func (s *Neo4jStore) SearchEpisodesByText(ctx context.Context, query string, tenant domain.TenantContext, limit int) ([]domain.ScoredEpisode, error) {
	if limit <= 0 {
		limit = 20
	}
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	params := map[string]any{"tokens": tokens, "limit": limit * 3}
	where := s.tenantWhere("e", tenant, params)
	records, err := s.read(ctx, `
		MATCH (e:Episode) WHERE `+where+`
		AND any(tok IN $tokens WHERE toLower(e.content) CONTAINS tok OR toLower(e.summary) CONTAINS tok)
		RETURN e ORDER BY e.timestamp DESC LIMIT $limit`, params)
	if err != nil {
		return nil, fmt.Errorf("search episodes by text: %w", err)
	}

	var out []domain.ScoredEpisode
	for _, rec := range records {
		props, ok := nodeProps(rec, "e")
		if !ok {
			continue
		}
		ep := episodeFromProps(props)
		if score := textMatchScore(query, &ep); score > 0 {
			out = append(out, domain.ScoredEpisode{Episode: ep, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Neo4jStore) MarkConsolidated(ctx context.Context, ids []uuid.UUID, summaryID uuid.UUID, tenant domain.TenantContext) error {
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	params := map[string]any{"ids": idStrs, "summary_id": summaryID.String()}
	where := s.tenantWhere("e", tenant, params)
	_, err := s.write(ctx, `
		MATCH (e:Episode) WHERE e.id IN $ids AND `+where+`
		MATCH (s:Episode {id: $summary_id})
		SET e.consolidated = true
		MERGE (e)-[r:SUMMARIZED_IN]->(s)
		ON CREATE SET r.weight = 1.0, r.created_at = $now`,
		mergeParams(params, map[string]any{"now": time.Now().UTC()}))
	if err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}
	return nil
}

func mergeParams(a, b map[string]any) map[string]any {
	for k, v := range b {
		a[k] = v
	}
	return a
}

func (s *Neo4jStore) SetImportance(ctx context.Context, id uuid.UUID, importance float64, tenant domain.TenantContext) error {
	params := map[string]any{
		"id":         id.String(),
		"importance": importance,
		"decay_rate": domain.DeriveDecayRate(importance),
	}
	where := s.tenantWhere("e", tenant, params)
	records, err := s.write(ctx, `
		MATCH (e:Episode {id: $id}) WHERE `+where+`
		SET e.importance = $importance, e.decay_rate = $decay_rate
		RETURN e.id`, params)
	if err != nil {
		return fmt.Errorf("set importance: %w", err)
	}
	if len(records) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Neo4jStore) DeleteNode(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (int64, error) {
	records, err := s.write(ctx, `
		MATCH (n {id: $id, company_id: $company_id, app_id: $app_id, user_id: $user_id})
		DETACH DELETE n
		RETURN count(n) AS deleted`,
		map[string]any{
			"id":         id.String(),
			"company_id": tenant.CompanyID,
			"app_id":     tenant.AppID,
			"user_id":    tenant.UserID,
		})
	if err != nil {
		return 0, fmt.Errorf("delete node: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if n, ok := records[0].Get("deleted"); ok {
		if count, ok := n.(int64); ok {
			return count, nil
		}
	}
	return 0, nil
}

func (s *Neo4jStore) HasNode(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (bool, error) {
	params := map[string]any{"id": id.String()}
	where := s.tenantWhere("n", tenant, params)
	records, err := s.read(ctx, `
		MATCH (n {id: $id}) WHERE `+where+` RETURN n.id LIMIT 1`, params)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (s *Neo4jStore) Stats(ctx context.Context, tenant domain.TenantContext) (*domain.GraphStats, error) {
	params := map[string]any{}
	whereE := s.tenantWhere("e", tenant, params)
	records, err := s.read(ctx, `
		OPTIONAL MATCH (e:Episode) WHERE `+whereE+`
		WITH count(e) AS episodes, avg(e.importance) AS avg_importance
		OPTIONAL MATCH (n:Entity) WHERE `+strings.ReplaceAll(whereE, "e.", "n.")+` AND n.merged = false
		WITH episodes, avg_importance, count(n) AS entities
		OPTIONAL MATCH (f:Fact) WHERE `+strings.ReplaceAll(whereE, "e.", "f.")+` AND f.is_valid = true
		RETURN episodes, entities, count(f) AS facts, avg_importance`, params)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}
	stats := &domain.GraphStats{}
	if len(records) > 0 {
		rec := records[0]
		if v, ok := rec.Get("episodes"); ok {
			if n, ok := v.(int64); ok {
				stats.TotalEpisodes = int(n)
			}
		}
		if v, ok := rec.Get("entities"); ok {
			if n, ok := v.(int64); ok {
				stats.TotalEntities = int(n)
			}
		}
		if v, ok := rec.Get("facts"); ok {
			if n, ok := v.(int64); ok {
				stats.TotalFacts = int(n)
			}
		}
		if v, ok := rec.Get("avg_importance"); ok {
			if f, ok := v.(float64); ok {
				stats.AvgImportance = f
			}
		}
	}
	return stats, nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}
