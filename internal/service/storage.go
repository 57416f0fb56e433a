package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/metrics"
	"github.com/adverant/nexus-memory/internal/saga"
	"github.com/adverant/nexus-memory/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// memoryCacheTTL is the hot-cache lifetime for freshly stored memories.
	memoryCacheTTL = 24 * time.Hour

	// idempotencyTTL bounds how long a caller-supplied idempotency key
	// short-circuits repeat writes.
	idempotencyTTL = 24 * time.Hour

	// similarLinkThreshold is the minimum similarity for a SIMILAR_TO edge
	// between memories at write time.
	similarLinkThreshold = 0.7
)

// StorageService is the unified storage engine: it validates, hashes, sizes,
// and writes each memory across the relational, vector, and graph stores
// under one saga.
type StorageService struct {
	relational  domain.RelationalStore
	vector      domain.VectorStore
	graph       domain.GraphStore
	kv          domain.KVStore
	embedder    domain.EmbeddingClient
	coordinator *saga.Coordinator
	rollbacker  *store.Rollbacker
	logger      *zap.Logger
}

func NewStorageService(
	relational domain.RelationalStore,
	vector domain.VectorStore,
	graph domain.GraphStore,
	kv domain.KVStore,
	embedder domain.EmbeddingClient,
	logger *zap.Logger,
) *StorageService {
	return &StorageService{
		relational:  relational,
		vector:      vector,
		graph:       graph,
		kv:          kv,
		embedder:    embedder,
		coordinator: saga.NewCoordinator(logger),
		rollbacker:  store.NewRollbacker(relational, vector, graph, logger),
		logger:      logger,
	}
}

// StoreMemoryRequest is the storeMemory input.
type StoreMemoryRequest struct {
	Content        string
	Tags           []string
	Metadata       map[string]any
	Importance     float64
	IdempotencyKey string
	Tenant         domain.TenantContext
}

// StoreMemoryResult is the storeMemory outcome.
type StoreMemoryResult struct {
	ID        uuid.UUID `json:"id"`
	Success   bool      `json:"success"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Chunked   bool      `json:"chunked,omitempty"`
	Chunks    int       `json:"chunks,omitempty"`
	SagaID    string    `json:"saga_id,omitempty"`
}

// NormalizeContent strips control characters and collapses whitespace.
func NormalizeContent(content string) string {
	var sb strings.Builder
	sb.Grow(len(content))
	for _, r := range content {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// ContentHash is the 16-hex dedup hash of normalized content.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// EstimateContentTokens approximates token count for size classing.
func EstimateContentTokens(content string) int {
	return len(content) / 4
}

// ChunkContent splits oversize content into overlapping chunks.
func ChunkContent(content string, size, overlap int) []string {
	if size <= 0 {
		size = domain.ChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = domain.ChunkOverlap
	}
	runes := []rune(content)
	if len(runes) <= size {
		return []string{content}
	}
	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func (s *StorageService) validate(req *StoreMemoryRequest) (string, error) {
	if err := req.Tenant.Validate(); err != nil {
		return "", err
	}
	normalized := NormalizeContent(req.Content)
	if len(normalized) < domain.MinContentLength {
		return "", fmt.Errorf("%w: content shorter than %d chars after normalization", domain.ErrInvalidContent, domain.MinContentLength)
	}
	if len(normalized) > domain.MaxContentLength {
		normalized = normalized[:domain.MaxContentLength]
	}
	if req.Importance < 0 || req.Importance > 1 {
		return "", domain.ErrInvalidImportance
	}
	return normalized, nil
}

// StoreMemory runs the unified storage saga for one memory.
func (s *StorageService) StoreMemory(ctx context.Context, req StoreMemoryRequest) (*StoreMemoryResult, error) {
	normalized, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	// A caller-supplied idempotency key short-circuits the whole saga.
	if req.IdempotencyKey != "" {
		if id, err := s.kv.GetIdempotentID(ctx, req.Tenant, req.IdempotencyKey); err == nil {
			return &StoreMemoryResult{ID: id, Success: true, Duplicate: true}, nil
		}
	}

	hash := ContentHash(normalized)
	if existing, err := s.relational.GetContentByHash(ctx, hash, req.Tenant); err == nil {
		metrics.Duplicates.Inc()
		return &StoreMemoryResult{ID: existing.ID, Success: true, Duplicate: true}, nil
	}

	memoryID := uuid.New()
	var result *saga.Result
	chunked := EstimateContentTokens(normalized) > domain.SingleMemoryTokenLimit
	var chunks []string
	if chunked {
		chunks = ChunkContent(normalized, domain.ChunkSize, domain.ChunkOverlap)
		result = s.coordinator.Run(ctx, "store_document", s.documentSteps(memoryID, normalized, hash, chunks, req), nil)
	} else {
		result = s.coordinator.Run(ctx, "store_memory", s.memorySteps(memoryID, normalized, hash, req), nil)
	}

	if !result.Success {
		metrics.SagaOutcomes.WithLabelValues(sagaName(chunked), "failed").Inc()
		if result.NeedsIntervention() {
			metrics.CompensationFailures.Add(float64(len(result.CompensationFailures)))
		}
		return &StoreMemoryResult{SagaID: result.SagaID}, &domain.StorageError{
			SagaID:     result.SagaID,
			FailedStep: result.FailedStep,
			Err:        result.Err,
		}
	}
	metrics.SagaOutcomes.WithLabelValues(sagaName(chunked), "committed").Inc()

	s.afterCommit(ctx, memoryID, normalized, hash, req)

	return &StoreMemoryResult{
		ID:      memoryID,
		Success: true,
		Chunked: chunked,
		Chunks:  len(chunks),
		SagaID:  result.SagaID,
	}, nil
}

func sagaName(chunked bool) string {
	if chunked {
		return "store_document"
	}
	return "store_memory"
}

func (s *StorageService) memorySteps(memoryID uuid.UUID, content, hash string, req StoreMemoryRequest) []saga.Step {
	return []saga.Step{
		{
			Name:       "embedding",
			Idempotent: true,
			Retry:      &saga.RetryPolicy{MaxAttempts: 2, Backoff: 500 * time.Millisecond},
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				vec, err := s.embedder.Embed(ctx, content, domain.InputDocument)
				if err != nil {
					return nil, err
				}
				sc.Set("vector", vec)
				return map[string]any{"dimensions": len(vec)}, nil
			},
		},
		{
			Name:       "relational",
			Idempotent: true,
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				vec, _ := sc.Get("vector")
				rec := &domain.ContentRecord{
					ID:          memoryID,
					ContentType: domain.ContentTypeMemory,
					Content:     content,
					ContentHash: hash,
					Tags:        req.Tags,
					Metadata:    req.Metadata,
					Importance:  req.Importance,
					Embedding:   vec.([]float32),
					Tenant:      req.Tenant,
				}
				if err := s.relational.InsertContent(ctx, rec); err != nil {
					return nil, err
				}
				return map[string]any{"id": rec.ID.String()}, nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				_, err := s.rollbacker.DeleteRelational(ctx, memoryID, req.Tenant)
				return err
			},
		},
		{
			Name: "vector",
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				vec, _ := sc.Get("vector")
				err := s.vector.Upsert(ctx, domain.CollectionUnified, []domain.VectorRecord{{
					PointID: memoryID,
					Vector:  vec.([]float32),
					Payload: vectorPayload(content, domain.ContentTypeMemory, req.Tenant, req.Tags, 0),
				}})
				if err != nil {
					return nil, err
				}
				return map[string]any{"points": 1}, nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				_, err := s.rollbacker.DeleteVector(ctx, domain.CollectionUnified, []uuid.UUID{memoryID})
				return err
			},
		},
		{
			Name: "graph",
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				m := &domain.Memory{
					ID:          memoryID,
					Content:     content,
					ContentHash: hash,
					Importance:  req.Importance,
					Timestamp:   time.Now().UTC(),
					Tenant:      req.Tenant,
				}
				if err := s.graph.CreateMemoryNode(ctx, m); err != nil {
					return nil, err
				}
				linked := s.linkSimilar(ctx, memoryID, sc, req.Tenant)
				return map[string]any{"similar_linked": linked}, nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				_, err := s.rollbacker.DeleteGraph(ctx, memoryID, req.Tenant)
				return err
			},
		},
	}
}

// linkSimilar connects the new memory to near-duplicates found on the
// relational pgvector lane. Link failures are logged, never fatal.
func (s *StorageService) linkSimilar(ctx context.Context, memoryID uuid.UUID, sc *saga.Context, tenant domain.TenantContext) int {
	raw, ok := sc.Get("vector")
	if !ok {
		return 0
	}
	similar, err := s.relational.FindSimilar(ctx, raw.([]float32), tenant, similarLinkThreshold, 5)
	if err != nil {
		s.logger.Warn("similar-memory lookup failed", zap.Error(err))
		return 0
	}
	linked := 0
	for _, match := range similar {
		if match.ID == memoryID {
			continue
		}
		if err := s.graph.LinkSimilar(ctx, memoryID, match.ID, match.Score); err != nil {
			s.logger.Warn("similar link failed", zap.String("target", match.ID.String()), zap.Error(err))
			continue
		}
		linked++
	}
	return linked
}

func vectorPayload(content string, ct domain.ContentType, t domain.TenantContext, tags []string, pageNumber int) map[string]any {
	payload := map[string]any{
		"content":      content,
		"content_type": string(ct),
		"company_id":   t.CompanyID,
		"app_id":       t.AppID,
		"user_id":      t.UserID,
	}
	if t.SessionID != "" {
		payload["session_id"] = t.SessionID
	}
	if len(tags) > 0 {
		payload["tags"] = tags
	}
	if pageNumber > 0 {
		payload["page_number"] = pageNumber
	}
	return payload
}

func (s *StorageService) documentSteps(docID uuid.UUID, content, hash string, chunks []string, req StoreMemoryRequest) []saga.Step {
	chunkIDs := make([]uuid.UUID, len(chunks))
	for i := range chunks {
		chunkIDs[i] = uuid.New()
	}

	return []saga.Step{
		{
			Name:       "embedding",
			Idempotent: true,
			Retry:      &saga.RetryPolicy{MaxAttempts: 2, Backoff: 500 * time.Millisecond},
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				vectors := make([][]float32, len(chunks))
				for i, chunk := range chunks {
					vec, err := s.embedder.Embed(ctx, chunk, domain.InputDocument)
					if err != nil {
						return nil, fmt.Errorf("chunk %d: %w", i, err)
					}
					vectors[i] = vec
				}
				sc.Set("vectors", vectors)
				return map[string]any{"chunks": len(vectors)}, nil
			},
		},
		{
			Name:       "relational",
			Idempotent: true,
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				doc := &domain.Document{
					ID:       docID,
					Title:    titleFromContent(content),
					Type:     "memory_document",
					Format:   "text",
					Size:     len(content),
					Hash:     hash,
					Version:  1,
					Tags:     req.Tags,
					Metadata: req.Metadata,
					Tenant:   req.Tenant,
				}
				if err := s.relational.InsertDocument(ctx, doc); err != nil {
					return nil, err
				}
				vectors, _ := sc.Get("vectors")
				vecs := vectors.([][]float32)
				for i, chunk := range chunks {
					rec := &domain.ContentRecord{
						ID:          chunkIDs[i],
						ContentType: domain.ContentTypeDocumentChunk,
						Content:     chunk,
						ContentHash: ContentHash(chunk),
						Tags:        req.Tags,
						Metadata: map[string]any{
							"document_id": docID.String(),
							"chunk_index": i,
							"page_number": i + 1,
						},
						Importance: req.Importance,
						Embedding:  vecs[i],
						Tenant:     req.Tenant,
					}
					if err := s.relational.InsertContent(ctx, rec); err != nil {
						return nil, fmt.Errorf("chunk %d insert: %w", i, err)
					}
				}
				return map[string]any{"document_id": docID.String(), "chunks": len(chunks)}, nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				if _, err := s.rollbacker.DeleteRelationalBatch(ctx, chunkIDs, req.Tenant); err != nil {
					return err
				}
				_, err := s.relational.DeleteDocument(ctx, docID, req.Tenant)
				return err
			},
		},
		{
			Name: "vector",
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				vectors, _ := sc.Get("vectors")
				vecs := vectors.([][]float32)
				records := make([]domain.VectorRecord, len(chunks))
				for i, chunk := range chunks {
					payload := vectorPayload(chunk, domain.ContentTypeDocumentChunk, req.Tenant, req.Tags, i+1)
					payload["document_id"] = docID.String()
					records[i] = domain.VectorRecord{PointID: chunkIDs[i], Vector: vecs[i], Payload: payload}
				}
				if err := s.vector.Upsert(ctx, domain.CollectionUnified, records); err != nil {
					return nil, err
				}
				return map[string]any{"points": len(records)}, nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				_, err := s.rollbacker.DeleteVector(ctx, domain.CollectionUnified, chunkIDs)
				return err
			},
		},
		{
			Name: "graph",
			Execute: func(ctx context.Context, sc *saga.Context) (any, error) {
				m := &domain.Memory{
					ID:          docID,
					Content:     titleFromContent(content),
					ContentHash: hash,
					Importance:  req.Importance,
					Timestamp:   time.Now().UTC(),
					Tenant:      req.Tenant,
				}
				if err := s.graph.CreateMemoryNode(ctx, m); err != nil {
					return nil, err
				}
				return map[string]any{"node": docID.String()}, nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				_, err := s.rollbacker.DeleteGraph(ctx, docID, req.Tenant)
				return err
			},
		},
	}
}

func titleFromContent(content string) string {
	const max = 80
	if len(content) <= max {
		return content
	}
	return content[:max]
}

// afterCommit runs the fire-and-forget post-write work: hot cache, recent
// list, idempotency mapping. Failures are logged only.
func (s *StorageService) afterCommit(ctx context.Context, id uuid.UUID, content, hash string, req StoreMemoryRequest) {
	m := &domain.Memory{
		ID:          id,
		Content:     content,
		ContentHash: hash,
		Tags:        req.Tags,
		Timestamp:   time.Now().UTC(),
		Importance:  req.Importance,
		Metadata:    req.Metadata,
		Tenant:      req.Tenant,
	}
	if err := s.kv.CacheMemory(ctx, m, memoryCacheTTL); err != nil {
		s.logger.Debug("memory hot-cache write failed", zap.Error(err))
	}
	if err := s.kv.PushRecent(ctx, req.Tenant, id); err != nil {
		s.logger.Debug("recent-list push failed", zap.Error(err))
	}
	if req.IdempotencyKey != "" {
		if err := s.kv.SetIdempotentID(ctx, req.Tenant, req.IdempotencyKey, id, idempotencyTTL); err != nil {
			s.logger.Debug("idempotency mapping write failed", zap.Error(err))
		}
	}
}

// GetMemory serves getMemoryById: hot cache first, relational on miss.
func (s *StorageService) GetMemory(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.Memory, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if m, err := s.kv.GetCachedMemory(ctx, id, tenant); err == nil {
		return m, nil
	}
	rec, err := s.relational.GetContent(ctx, id, tenant)
	if err != nil {
		return nil, err
	}
	return recordToMemory(rec), nil
}

func recordToMemory(rec *domain.ContentRecord) *domain.Memory {
	return &domain.Memory{
		ID:          rec.ID,
		Content:     rec.Content,
		ContentHash: rec.ContentHash,
		Tags:        rec.Tags,
		Timestamp:   rec.CreatedAt,
		Importance:  rec.Importance,
		Metadata:    rec.Metadata,
		Tenant:      rec.Tenant,
	}
}

// ListMemoriesResult pages tenant memories.
type ListMemoriesResult struct {
	Memories []domain.Memory `json:"memories"`
	Total    int             `json:"total"`
}

func (s *StorageService) ListMemories(ctx context.Context, tenant domain.TenantContext, limit, offset int) (*ListMemoriesResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	records, err := s.relational.ListContent(ctx, tenant, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.relational.CountContent(ctx, tenant)
	if err != nil {
		return nil, err
	}
	out := &ListMemoriesResult{Total: total, Memories: make([]domain.Memory, 0, len(records))}
	for i := range records {
		out.Memories = append(out.Memories, *recordToMemory(&records[i]))
	}
	return out, nil
}

// DeleteMemory removes one memory from all three stores, tenant-scoped.
func (s *StorageService) DeleteMemory(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	deleted, err := s.relational.DeleteContent(ctx, id, tenant)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return domain.ErrNotFound
	}
	if err := s.vector.DeletePoints(ctx, domain.CollectionUnified, []uuid.UUID{id}); err != nil {
		s.logger.Warn("vector delete failed", zap.String("id", id.String()), zap.Error(err))
	}
	if _, err := s.graph.DeleteNode(ctx, id, tenant); err != nil {
		s.logger.Warn("graph delete failed", zap.String("id", id.String()), zap.Error(err))
	}
	return nil
}

// VerifyRollback checks all stores for residue after a failed write.
func (s *StorageService) VerifyRollback(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) store.RollbackVerification {
	return s.rollbacker.VerifyRollback(ctx, id, domain.CollectionUnified, tenant)
}
