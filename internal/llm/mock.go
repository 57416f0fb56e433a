package llm

import (
	"context"

	"github.com/adverant/nexus-memory/internal/domain"
)

// MockClient is a configurable LLM client for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	ExtractResponse   []domain.LLMEntity
	ExtractError      error
	ClassifyResponse  map[string]domain.Classification
	ClassifyError     error
	SummarizeResponse string
	SummarizeError    error

	// Call tracking for assertions
	ExtractCalls   []string
	ClassifyCalls  [][]string
	SummarizeCalls [][]string
}

func NewMockClient() *MockClient {
	return &MockClient{
		ExtractResponse:   []domain.LLMEntity{},
		ClassifyResponse:  map[string]domain.Classification{},
		SummarizeResponse: "Mock summary",
	}
}

func (c *MockClient) ExtractEntities(ctx context.Context, content string) ([]domain.LLMEntity, error) {
	c.ExtractCalls = append(c.ExtractCalls, content)
	if c.ExtractError != nil {
		return nil, c.ExtractError
	}
	return c.ExtractResponse, nil
}

func (c *MockClient) ClassifyEntity(ctx context.Context, name string) (*domain.Classification, error) {
	out, err := c.ClassifyEntities(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	if cls, ok := out[name]; ok {
		return &cls, nil
	}
	cls := domain.Classification{Type: domain.EntityOther, Confidence: 0.5}
	return &cls, nil
}

func (c *MockClient) ClassifyEntities(ctx context.Context, names []string) (map[string]domain.Classification, error) {
	c.ClassifyCalls = append(c.ClassifyCalls, names)
	if c.ClassifyError != nil {
		return nil, c.ClassifyError
	}
	out := make(map[string]domain.Classification, len(names))
	for _, name := range names {
		if cls, ok := c.ClassifyResponse[name]; ok {
			out[name] = cls
		}
	}
	return out, nil
}

func (c *MockClient) Summarize(ctx context.Context, contents []string) (string, error) {
	c.SummarizeCalls = append(c.SummarizeCalls, contents)
	if c.SummarizeError != nil {
		return "", c.SummarizeError
	}
	return c.SummarizeResponse, nil
}

// Reset clears all recorded calls and resets responses to defaults.
func (c *MockClient) Reset() {
	c.ExtractResponse = []domain.LLMEntity{}
	c.ExtractError = nil
	c.ClassifyResponse = map[string]domain.Classification{}
	c.ClassifyError = nil
	c.SummarizeResponse = "Mock summary"
	c.SummarizeError = nil
	c.ExtractCalls = nil
	c.ClassifyCalls = nil
	c.SummarizeCalls = nil
}
