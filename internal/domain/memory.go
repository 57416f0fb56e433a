package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// MinContentLength and MaxContentLength bound memory content after
	// normalization. Shorter content is rejected, longer is truncated.
	MinContentLength = 10
	MaxContentLength = 8000

	// EmbeddingDim is the only accepted embedding vector dimension.
	EmbeddingDim = 1024

	// ChunkSize and ChunkOverlap control mini-document chunking for
	// oversize memories.
	ChunkSize    = 1000
	ChunkOverlap = 100

	// SingleMemoryTokenLimit separates single memories from chunked
	// mini-documents.
	SingleMemoryTokenLimit = 500
)

// ContentType distinguishes vector payloads in the unified collection.
type ContentType string

const (
	ContentTypeMemory        ContentType = "memory"
	ContentTypeDocumentChunk ContentType = "document_chunk"
)

// Memory is a long-lived free-form memory item. Content is immutable after
// creation; importance may be updated administratively.
type Memory struct {
	ID          uuid.UUID      `json:"id"`
	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Tags        []string       `json:"tags,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Importance  float64        `json:"importance"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Tenant      TenantContext  `json:"tenant"`
}

// MemoryWithScore is a Memory plus its recall relevance.
type MemoryWithScore struct {
	Memory
	RelevanceScore float64 `json:"relevance_score"`
}

// Chunk is one piece of an oversize memory stored as a mini-document.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	PageNumber int       `json:"page_number,omitempty"`
}

// VectorRecord is what gets upserted into the vector store. The payload
// duplicates the tenant fields so filtered search enforces isolation without
// a second lookup.
type VectorRecord struct {
	PointID uuid.UUID      `json:"point_id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// VectorMatch is a single filtered k-NN hit.
type VectorMatch struct {
	PointID uuid.UUID      `json:"point_id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}
