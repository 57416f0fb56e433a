package domain

import "context"

// InputType tells the embedder whether the text is a search query or a
// document being indexed. Asymmetric embedding models care.
type InputType string

const (
	InputQuery    InputType = "query"
	InputDocument InputType = "document"
)

// EmbeddingClient produces EmbeddingDim-length vectors.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string, inputType InputType) ([]float32, error)
	Model() string
}

// RerankResult scores one document from a rerank call. Index refers to the
// position in the submitted document slice.
type RerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// RerankClient is a cross-encoder reranker.
type RerankClient interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
}

// LLMEntity is the raw entity shape returned by the LLM extraction path,
// before type coercion and confidence clamping.
type LLMEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Classification is an entity type judgment with its confidence.
type Classification struct {
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// LLMClient covers the structured-output calls the core needs: entity
// extraction, entity classification, and consolidation summaries.
type LLMClient interface {
	ExtractEntities(ctx context.Context, content string) ([]LLMEntity, error)
	ClassifyEntity(ctx context.Context, name string) (*Classification, error)
	ClassifyEntities(ctx context.Context, names []string) (map[string]Classification, error)
	Summarize(ctx context.Context, contents []string) (string, error)
}
