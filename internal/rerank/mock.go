package rerank

import (
	"context"
	"strings"
	"sync"

	"github.com/adverant/nexus-memory/internal/domain"
)

// MockClient scores documents by naive token overlap with the query, so test
// assertions about ordering stay intuitive. Err, when set, fails every call.
type MockClient struct {
	mu    sync.Mutex
	Err   error
	Calls int
}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) Rerank(ctx context.Context, query string, documents []string, topK int) ([]domain.RerankResult, error) {
	m.mu.Lock()
	m.Calls++
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	queryTokens := strings.Fields(strings.ToLower(query))
	results := make([]domain.RerankResult, 0, len(documents))
	for i, doc := range documents {
		lower := strings.ToLower(doc)
		hits := 0
		for _, tok := range queryTokens {
			if strings.Contains(lower, tok) {
				hits++
			}
		}
		score := 0.0
		if len(queryTokens) > 0 {
			score = float64(hits) / float64(len(queryTokens))
		}
		results = append(results, domain.RerankResult{Index: i, Score: score})
	}
	return results, nil
}
