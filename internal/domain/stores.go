package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContentRecord is a row in the relational unified_content table, the
// primary source of truth for existence of a memory or chunk.
type ContentRecord struct {
	ID          uuid.UUID      `json:"id"`
	ContentType ContentType    `json:"content_type"`
	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Importance  float64        `json:"importance"`
	Embedding   []float32      `json:"-"`
	Tenant      TenantContext  `json:"tenant"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ScoredContent is a ContentRecord plus a similarity score from the
// relational pgvector lane.
type ScoredContent struct {
	ContentRecord
	Score float64 `json:"score"`
}

// Document describes a chunked mini-document created for oversize memories.
type Document struct {
	ID        uuid.UUID      `json:"id"`
	Title     string         `json:"title"`
	Type      string         `json:"type"`
	Format    string         `json:"format"`
	Size      int            `json:"size"`
	Hash      string         `json:"hash"`
	Version   int            `json:"version"`
	Tags      []string       `json:"tags,omitempty"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tenant    TenantContext  `json:"tenant"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RelationalStore is the tenant-scoped relational backing store.
// Every read injects the tenant predicate; writes set tenant fields.
type RelationalStore interface {
	InsertContent(ctx context.Context, rec *ContentRecord) error
	GetContent(ctx context.Context, id uuid.UUID, tenant TenantContext) (*ContentRecord, error)
	GetContentByHash(ctx context.Context, hash string, tenant TenantContext) (*ContentRecord, error)
	ListContent(ctx context.Context, tenant TenantContext, limit, offset int) ([]ContentRecord, error)
	CountContent(ctx context.Context, tenant TenantContext) (int, error)
	DeleteContent(ctx context.Context, id uuid.UUID, tenant TenantContext) (int64, error)
	DeleteContentBatch(ctx context.Context, ids []uuid.UUID, tenant TenantContext) (int64, error)
	FindSimilar(ctx context.Context, embedding []float32, tenant TenantContext, threshold float64, limit int) ([]ScoredContent, error)
	SearchText(ctx context.Context, query string, tenant TenantContext, limit int) ([]ContentRecord, error)
	InsertDocument(ctx context.Context, doc *Document) error
	DeleteDocument(ctx context.Context, id uuid.UUID, tenant TenantContext) (int64, error)
	Ping(ctx context.Context) error
}

// FieldMatch is one equality condition in a vector payload filter.
type FieldMatch struct {
	Key   string
	Value any
}

// VectorFilter is the must/should filter applied to a vector search.
// Must conditions all apply; at least one Should condition must hold.
type VectorFilter struct {
	Must   []FieldMatch
	Should []FieldMatch
}

// TenantVectorFilter builds the standard isolation filter: company and app
// as must, the reader's visible user lanes as should.
func TenantVectorFilter(t TenantContext) VectorFilter {
	f := VectorFilter{
		Must: []FieldMatch{
			{Key: "company_id", Value: t.CompanyID},
			{Key: "app_id", Value: t.AppID},
		},
	}
	for _, uid := range t.ReadUserIDs() {
		f.Should = append(f.Should, FieldMatch{Key: "user_id", Value: uid})
	}
	return f
}

// VectorStore is a filtered k-NN index over named collections.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, records []VectorRecord) error
	Search(ctx context.Context, collection string, vector []float32, filter VectorFilter, limit int, scoreThreshold float64) ([]VectorMatch, error)
	DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error
	HasPoint(ctx context.Context, collection string, id uuid.UUID) (bool, error)
	Ping(ctx context.Context) error
}

// Default vector collections.
const (
	CollectionUnified  = "unified_content"
	CollectionMemories = "memories"
)

// ScoredEpisode is an episode plus a relevance score, used by the graph
// text-match fallback lane.
type ScoredEpisode struct {
	Episode
	Score float64 `json:"score"`
}

// AdjacentContext is the graph neighborhood of a recalled episode.
type AdjacentContext struct {
	Entities  []ExtractedEntity  `json:"entities"`
	Facts     []ExtractedFact    `json:"facts"`
	Connected []ConnectedEpisode `json:"connected_episodes"`
}

// GraphStats backs getMemoryStats.
type GraphStats struct {
	TotalEpisodes int     `json:"total_episodes"`
	TotalEntities int     `json:"total_entities"`
	TotalFacts    int     `json:"total_facts"`
	AvgImportance float64 `json:"avg_importance"`
}

// GraphStore is the property-graph backing store. Writes on one session are
// serialized by the implementation; callers never issue parallel writes on
// a single logical stream.
type GraphStore interface {
	CreateEpisode(ctx context.Context, ep *Episode) error
	GetEpisode(ctx context.Context, id uuid.UUID, tenant TenantContext) (*Episode, error)
	FindEpisodeByHash(ctx context.Context, hash string, tenant TenantContext) (*Episode, error)
	MostRecentEpisode(ctx context.Context, tenant TenantContext, before time.Time) (*Episode, error)
	FindUserQueryByInteraction(ctx context.Context, tenant TenantContext, interactionID string) (*Episode, error)
	ListEpisodesBefore(ctx context.Context, tenant TenantContext, before time.Time, limit int) ([]Episode, error)

	CreateEdge(ctx context.Context, e *Edge) error
	CreateMemoryNode(ctx context.Context, m *Memory) error
	LinkSimilar(ctx context.Context, sourceID, targetID uuid.UUID, score float64) error

	UpsertEntity(ctx context.Context, ent *ExtractedEntity) error
	MergeMention(ctx context.Context, entityID uuid.UUID, tenant TenantContext, alias string, salience float64) error
	LinkMention(ctx context.Context, episodeID, entityID uuid.UUID) error
	ListEntities(ctx context.Context, tenant TenantContext, limit int) ([]ExtractedEntity, error)
	MergeEntities(ctx context.Context, ids []uuid.UUID, tenant TenantContext) (*ExtractedEntity, error)

	CreateFact(ctx context.Context, f *ExtractedFact) error
	SetFactValidity(ctx context.Context, id uuid.UUID, isValid bool, tenant TenantContext) error

	FetchAdjacent(ctx context.Context, episodeID uuid.UUID, tenant TenantContext) (*AdjacentContext, error)
	SearchEpisodesByText(ctx context.Context, query string, tenant TenantContext, limit int) ([]ScoredEpisode, error)

	MarkConsolidated(ctx context.Context, ids []uuid.UUID, summaryID uuid.UUID, tenant TenantContext) error
	SetImportance(ctx context.Context, id uuid.UUID, importance float64, tenant TenantContext) error

	DeleteNode(ctx context.Context, id uuid.UUID, tenant TenantContext) (int64, error)
	HasNode(ctx context.Context, id uuid.UUID, tenant TenantContext) (bool, error)
	Stats(ctx context.Context, tenant TenantContext) (*GraphStats, error)
	Ping(ctx context.Context) error
}

// KVStore is the fast key-value cache: hot memory records, the bounded
// recent-memory list, and embedding blobs. All writes are fire-and-forget
// at call sites; failures never affect the primary operation.
type KVStore interface {
	CacheMemory(ctx context.Context, m *Memory, ttl time.Duration) error
	GetCachedMemory(ctx context.Context, id uuid.UUID, tenant TenantContext) (*Memory, error)
	PushRecent(ctx context.Context, tenant TenantContext, id uuid.UUID) error
	GetIdempotentID(ctx context.Context, tenant TenantContext, key string) (uuid.UUID, error)
	SetIdempotentID(ctx context.Context, tenant TenantContext, key string, id uuid.UUID, ttl time.Duration) error
	GetEmbedding(ctx context.Context, key string) ([]float32, error)
	SetEmbedding(ctx context.Context, key string, vector []float32, ttl time.Duration) error
	Ping(ctx context.Context) error
}
