package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
)

// In-memory store fakes. Each honors the tenant visibility rules the real
// stores implement and exposes error fields for failure injection.

type fakeRelational struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.ContentRecord
	docs map[uuid.UUID]*domain.Document

	insertErr error
	searchErr error
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{
		rows: make(map[uuid.UUID]*domain.ContentRecord),
		docs: make(map[uuid.UUID]*domain.Document),
	}
}

func (f *fakeRelational) InsertContent(ctx context.Context, rec *domain.ContentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	now := time.Now().UTC()
	for _, existing := range f.rows {
		if existing.ContentHash == rec.ContentHash && existing.Tenant.ScopeKey() == rec.Tenant.ScopeKey() {
			existing.UpdatedAt = now
			rec.ID = existing.ID
			return nil
		}
	}
	cp := *rec
	cp.CreatedAt = now
	cp.UpdatedAt = now
	f.rows[cp.ID] = &cp
	return nil
}

func (f *fakeRelational) GetContent(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.ContentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok || !tenant.CanRead(rec.Tenant.CompanyID, rec.Tenant.AppID, rec.Tenant.UserID) {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRelational) GetContentByHash(ctx context.Context, hash string, tenant domain.TenantContext) (*domain.ContentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.rows {
		if rec.ContentHash == hash && rec.Tenant.ScopeKey() == tenant.ScopeKey() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRelational) ListContent(ctx context.Context, tenant domain.TenantContext, limit, offset int) ([]domain.ContentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ContentRecord
	for _, rec := range f.rows {
		if tenant.CanRead(rec.Tenant.CompanyID, rec.Tenant.AppID, rec.Tenant.UserID) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRelational) CountContent(ctx context.Context, tenant domain.TenantContext) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.rows {
		if tenant.CanRead(rec.Tenant.CompanyID, rec.Tenant.AppID, rec.Tenant.UserID) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRelational) DeleteContent(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok || rec.Tenant.ScopeKey() != tenant.ScopeKey() {
		return 0, nil
	}
	delete(f.rows, id)
	return 1, nil
}

func (f *fakeRelational) DeleteContentBatch(ctx context.Context, ids []uuid.UUID, tenant domain.TenantContext) (int64, error) {
	var n int64
	for _, id := range ids {
		deleted, _ := f.DeleteContent(ctx, id, tenant)
		n += deleted
	}
	return n, nil
}

func (f *fakeRelational) FindSimilar(ctx context.Context, embedding []float32, tenant domain.TenantContext, threshold float64, limit int) ([]domain.ScoredContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScoredContent
	for _, rec := range f.rows {
		if !tenant.CanRead(rec.Tenant.CompanyID, rec.Tenant.AppID, rec.Tenant.UserID) || len(rec.Embedding) == 0 {
			continue
		}
		score := dot(embedding, rec.Embedding)
		if score >= threshold {
			out = append(out, domain.ScoredContent{ContentRecord: *rec, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRelational) SearchText(ctx context.Context, query string, tenant domain.TenantContext, limit int) ([]domain.ContentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	needle := strings.ToLower(query)
	var out []domain.ContentRecord
	for _, rec := range f.rows {
		if !tenant.CanRead(rec.Tenant.CompanyID, rec.Tenant.AppID, rec.Tenant.UserID) {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Content), needle) {
			out = append(out, *rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRelational) InsertDocument(ctx context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[cp.ID] = &cp
	return nil
}

func (f *fakeRelational) DeleteDocument(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.Tenant.ScopeKey() != tenant.ScopeKey() {
		return 0, nil
	}
	delete(f.docs, id)
	return 1, nil
}

func (f *fakeRelational) Ping(ctx context.Context) error { return nil }

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

type fakeVector struct {
	mu     sync.Mutex
	points map[string]map[uuid.UUID]domain.VectorRecord

	upsertErr error
	searchErr error
}

func newFakeVector() *fakeVector {
	return &fakeVector{points: make(map[string]map[uuid.UUID]domain.VectorRecord)}
}

func (f *fakeVector) Upsert(ctx context.Context, collection string, records []domain.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	coll := f.points[collection]
	if coll == nil {
		coll = make(map[uuid.UUID]domain.VectorRecord)
		f.points[collection] = coll
	}
	for _, rec := range records {
		coll[rec.PointID] = rec
	}
	return nil
}

func passesFilter(payload map[string]any, filter domain.VectorFilter) bool {
	for _, cond := range filter.Must {
		if payload[cond.Key] != cond.Value {
			return false
		}
	}
	if len(filter.Should) == 0 {
		return true
	}
	for _, cond := range filter.Should {
		if payload[cond.Key] == cond.Value {
			return true
		}
	}
	return false
}

func (f *fakeVector) Search(ctx context.Context, collection string, vector []float32, filter domain.VectorFilter, limit int, scoreThreshold float64) ([]domain.VectorMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []domain.VectorMatch
	for id, rec := range f.points[collection] {
		if !passesFilter(rec.Payload, filter) {
			continue
		}
		score := dot(vector, rec.Vector)
		if scoreThreshold > 0 && score < scoreThreshold {
			continue
		}
		out = append(out, domain.VectorMatch{PointID: id, Score: score, Payload: rec.Payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeVector) DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.points[collection], id)
	}
	return nil
}

func (f *fakeVector) HasPoint(ctx context.Context, collection string, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.points[collection][id]
	return ok, nil
}

func (f *fakeVector) Ping(ctx context.Context) error { return nil }

type fakeGraph struct {
	mu          sync.Mutex
	episodes    map[uuid.UUID]*domain.Episode
	entities    map[uuid.UUID]*domain.ExtractedEntity
	facts       map[uuid.UUID]*domain.ExtractedFact
	memoryNodes map[uuid.UUID]*domain.Memory
	edges       []domain.Edge
	mentions    map[uuid.UUID][]uuid.UUID

	createEpisodeErr error
	createMemoryErr  error
	listEntitiesErr  error
	searchTextErr    error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		episodes:    make(map[uuid.UUID]*domain.Episode),
		entities:    make(map[uuid.UUID]*domain.ExtractedEntity),
		facts:       make(map[uuid.UUID]*domain.ExtractedFact),
		memoryNodes: make(map[uuid.UUID]*domain.Memory),
		mentions:    make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeGraph) CreateEpisode(ctx context.Context, ep *domain.Episode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createEpisodeErr != nil {
		return f.createEpisodeErr
	}
	for _, existing := range f.episodes {
		if existing.ContentHash == ep.ContentHash && existing.Tenant.ScopeKey() == ep.Tenant.ScopeKey() {
			*ep = *existing
			return nil
		}
	}
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now().UTC()
	}
	cp := *ep
	f.episodes[cp.ID] = &cp
	return nil
}

func (f *fakeGraph) GetEpisode(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.episodes[id]
	if !ok || !tenant.CanRead(ep.Tenant.CompanyID, ep.Tenant.AppID, ep.Tenant.UserID) {
		return nil, domain.ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (f *fakeGraph) FindEpisodeByHash(ctx context.Context, hash string, tenant domain.TenantContext) (*domain.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ep := range f.episodes {
		if ep.ContentHash == hash && ep.Tenant.ScopeKey() == tenant.ScopeKey() {
			cp := *ep
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeGraph) MostRecentEpisode(ctx context.Context, tenant domain.TenantContext, before time.Time) (*domain.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.Episode
	for _, ep := range f.episodes {
		if ep.Consolidated || !ep.Timestamp.Before(before) {
			continue
		}
		if !tenant.CanRead(ep.Tenant.CompanyID, ep.Tenant.AppID, ep.Tenant.UserID) {
			continue
		}
		if best == nil || ep.Timestamp.After(best.Timestamp) {
			best = ep
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeGraph) FindUserQueryByInteraction(ctx context.Context, tenant domain.TenantContext, interactionID string) (*domain.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ep := range f.episodes {
		if ep.Type == domain.EpisodeUserQuery && ep.InteractionID == interactionID &&
			tenant.CanRead(ep.Tenant.CompanyID, ep.Tenant.AppID, ep.Tenant.UserID) {
			cp := *ep
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeGraph) ListEpisodesBefore(ctx context.Context, tenant domain.TenantContext, before time.Time, limit int) ([]domain.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Episode
	for _, ep := range f.episodes {
		if ep.Consolidated || !ep.Timestamp.Before(before) {
			continue
		}
		if tenant.CanRead(ep.Tenant.CompanyID, ep.Tenant.AppID, ep.Tenant.UserID) {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGraph) CreateEdge(ctx context.Context, e *domain.Edge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	f.edges = append(f.edges, *e)
	return nil
}

func (f *fakeGraph) CreateMemoryNode(ctx context.Context, m *domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createMemoryErr != nil {
		return f.createMemoryErr
	}
	cp := *m
	f.memoryNodes[cp.ID] = &cp
	return nil
}

func (f *fakeGraph) LinkSimilar(ctx context.Context, sourceID, targetID uuid.UUID, score float64) error {
	return f.CreateEdge(ctx, &domain.Edge{SourceID: sourceID, TargetID: targetID, Type: domain.EdgeSimilarTo, Weight: score})
}

func (f *fakeGraph) UpsertEntity(ctx context.Context, ent *domain.ExtractedEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	canonical := domain.CanonicalName(ent.Name)
	for _, existing := range f.entities {
		if existing.Merged || domain.CanonicalName(existing.Name) != canonical {
			continue
		}
		if existing.Tenant.ScopeKey() != ent.Tenant.ScopeKey() {
			continue
		}
		existing.MentionCount++
		existing.LastSeen = ent.LastSeen
		ent.ID = existing.ID
		return nil
	}
	if ent.ID == uuid.Nil {
		ent.ID = uuid.New()
	}
	if ent.MentionCount == 0 {
		ent.MentionCount = 1
	}
	cp := *ent
	f.entities[cp.ID] = &cp
	return nil
}

func (f *fakeGraph) MergeMention(ctx context.Context, entityID uuid.UUID, tenant domain.TenantContext, alias string, salience float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, ok := f.entities[entityID]
	if !ok {
		return domain.ErrNotFound
	}
	ent.MentionCount++
	ent.Salience = salience
	if alias != ent.Name {
		found := false
		for _, a := range ent.Aliases {
			if a == alias {
				found = true
				break
			}
		}
		if !found {
			ent.Aliases = append(ent.Aliases, alias)
		}
	}
	return nil
}

func (f *fakeGraph) LinkMention(ctx context.Context, episodeID, entityID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mentions[episodeID] = append(f.mentions[episodeID], entityID)
	return nil
}

func (f *fakeGraph) ListEntities(ctx context.Context, tenant domain.TenantContext, limit int) ([]domain.ExtractedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listEntitiesErr != nil {
		return nil, f.listEntitiesErr
	}
	var out []domain.ExtractedEntity
	for _, ent := range f.entities {
		if ent.Merged {
			continue
		}
		if tenant.CanRead(ent.Tenant.CompanyID, ent.Tenant.AppID, ent.Tenant.UserID) {
			out = append(out, *ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MentionCount > out[j].MentionCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGraph) MergeEntities(ctx context.Context, ids []uuid.UUID, tenant domain.TenantContext) (*domain.ExtractedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []*domain.ExtractedEntity
	for _, id := range ids {
		ent, ok := f.entities[id]
		if !ok || !tenant.CanRead(ent.Tenant.CompanyID, ent.Tenant.AppID, ent.Tenant.UserID) {
			return nil, domain.ErrNotFound
		}
		members = append(members, ent)
	}
	primary := members[0]
	for _, m := range members[1:] {
		if m.Salience > primary.Salience {
			primary = m
		}
	}
	for _, m := range members {
		if m == primary {
			continue
		}
		primary.MentionCount += m.MentionCount
		primary.Aliases = append(primary.Aliases, m.Name)
		primary.Aliases = append(primary.Aliases, m.Aliases...)
		m.Merged = true
	}
	cp := *primary
	return &cp, nil
}

func (f *fakeGraph) CreateFact(ctx context.Context, fact *domain.ExtractedFact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fact.ID == uuid.Nil {
		fact.ID = uuid.New()
	}
	fact.IsValid = true
	cp := *fact
	f.facts[cp.ID] = &cp
	return nil
}

func (f *fakeGraph) SetFactValidity(ctx context.Context, id uuid.UUID, isValid bool, tenant domain.TenantContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[id]
	if !ok || !tenant.CanRead(fact.Tenant.CompanyID, fact.Tenant.AppID, fact.Tenant.UserID) {
		return domain.ErrNotFound
	}
	fact.IsValid = isValid
	now := time.Now().UTC()
	fact.ValidatedAt = &now
	return nil
}

func (f *fakeGraph) FetchAdjacent(ctx context.Context, episodeID uuid.UUID, tenant domain.TenantContext) (*domain.AdjacentContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	adj := &domain.AdjacentContext{}
	for _, entID := range f.mentions[episodeID] {
		if ent, ok := f.entities[entID]; ok {
			adj.Entities = append(adj.Entities, *ent)
		}
	}
	for _, fact := range f.facts {
		if fact.SourceEpisodeID == episodeID && fact.IsValid {
			adj.Facts = append(adj.Facts, *fact)
		}
	}
	for _, edge := range f.edges {
		var otherID uuid.UUID
		switch episodeID {
		case edge.SourceID:
			otherID = edge.TargetID
		case edge.TargetID:
			otherID = edge.SourceID
		default:
			continue
		}
		if other, ok := f.episodes[otherID]; ok {
			adj.Connected = append(adj.Connected, domain.ConnectedEpisode{
				Episode:  *other,
				Relation: edge.Type,
				Weight:   edge.Weight,
			})
		}
	}
	return adj, nil
}

func (f *fakeGraph) SearchEpisodesByText(ctx context.Context, query string, tenant domain.TenantContext, limit int) ([]domain.ScoredEpisode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchTextErr != nil {
		return nil, f.searchTextErr
	}
	needle := strings.ToLower(query)
	var out []domain.ScoredEpisode
	for _, ep := range f.episodes {
		if !tenant.CanRead(ep.Tenant.CompanyID, ep.Tenant.AppID, ep.Tenant.UserID) {
			continue
		}
		if strings.Contains(strings.ToLower(ep.Content), needle) {
			out = append(out, domain.ScoredEpisode{Episode: *ep, Score: 0.55})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGraph) MarkConsolidated(ctx context.Context, ids []uuid.UUID, summaryID uuid.UUID, tenant domain.TenantContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		ep, ok := f.episodes[id]
		if !ok {
			continue
		}
		ep.Consolidated = true
		f.edges = append(f.edges, domain.Edge{
			ID:       uuid.New(),
			SourceID: id,
			TargetID: summaryID,
			Type:     domain.EdgeSummarizedIn,
			Weight:   1.0,
		})
	}
	return nil
}

func (f *fakeGraph) SetImportance(ctx context.Context, id uuid.UUID, importance float64, tenant domain.TenantContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.episodes[id]
	if !ok || !tenant.CanRead(ep.Tenant.CompanyID, ep.Tenant.AppID, ep.Tenant.UserID) {
		return domain.ErrNotFound
	}
	ep.Importance = importance
	ep.DecayRate = domain.DeriveDecayRate(importance)
	return nil
}

func (f *fakeGraph) DeleteNode(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ep, ok := f.episodes[id]; ok && ep.Tenant.ScopeKey() == tenant.ScopeKey() {
		delete(f.episodes, id)
		return 1, nil
	}
	if m, ok := f.memoryNodes[id]; ok && m.Tenant.ScopeKey() == tenant.ScopeKey() {
		delete(f.memoryNodes, id)
		return 1, nil
	}
	return 0, nil
}

func (f *fakeGraph) HasNode(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.episodes[id]; ok {
		return true, nil
	}
	_, ok := f.memoryNodes[id]
	return ok, nil
}

func (f *fakeGraph) Stats(ctx context.Context, tenant domain.TenantContext) (*domain.GraphStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.GraphStats{}
	var importanceSum float64
	for _, ep := range f.episodes {
		if tenant.CanRead(ep.Tenant.CompanyID, ep.Tenant.AppID, ep.Tenant.UserID) {
			stats.TotalEpisodes++
			importanceSum += ep.Importance
		}
	}
	for _, ent := range f.entities {
		if !ent.Merged && tenant.CanRead(ent.Tenant.CompanyID, ent.Tenant.AppID, ent.Tenant.UserID) {
			stats.TotalEntities++
		}
	}
	for _, fact := range f.facts {
		if tenant.CanRead(fact.Tenant.CompanyID, fact.Tenant.AppID, fact.Tenant.UserID) {
			stats.TotalFacts++
		}
	}
	if stats.TotalEpisodes > 0 {
		stats.AvgImportance = importanceSum / float64(stats.TotalEpisodes)
	}
	return stats, nil
}

func (f *fakeGraph) Ping(ctx context.Context) error { return nil }

func (f *fakeGraph) edgesOfType(t domain.EdgeType) []domain.Edge {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Edge
	for _, e := range f.edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeKV struct {
	mu       sync.Mutex
	memories map[string]*domain.Memory
	recent   map[string][]uuid.UUID
	idem     map[string]uuid.UUID
	embs     map[string][]float32
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		memories: make(map[string]*domain.Memory),
		recent:   make(map[string][]uuid.UUID),
		idem:     make(map[string]uuid.UUID),
		embs:     make(map[string][]float32),
	}
}

func (f *fakeKV) CacheMemory(ctx context.Context, m *domain.Memory, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.memories[m.Tenant.ScopeKey()+":"+m.ID.String()] = &cp
	return nil
}

func (f *fakeKV) GetCachedMemory(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memories[tenant.ScopeKey()+":"+id.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeKV) PushRecent(ctx context.Context, tenant domain.TenantContext, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tenant.ScopeKey()
	f.recent[key] = append([]uuid.UUID{id}, f.recent[key]...)
	return nil
}

func (f *fakeKV) GetIdempotentID(ctx context.Context, tenant domain.TenantContext, key string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.idem[tenant.ScopeKey()+":"+key]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	return id, nil
}

func (f *fakeKV) SetIdempotentID(ctx context.Context, tenant domain.TenantContext, key string, id uuid.UUID, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idem[tenant.ScopeKey()+":"+key] = id
	return nil
}

func (f *fakeKV) GetEmbedding(ctx context.Context, key string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embs[key], nil
}

func (f *fakeKV) SetEmbedding(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embs[key] = vector
	return nil
}

func (f *fakeKV) Ping(ctx context.Context) error { return nil }
