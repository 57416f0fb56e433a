package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"

	"github.com/adverant/nexus-memory/internal/domain"
)

// MockClient returns deterministic unit vectors derived from the input text.
// Identical texts embed identically, so similarity assertions in tests are
// stable. Errs, when set, fails the next FailCount calls.
type MockClient struct {
	mu        sync.Mutex
	Err       error
	FailCount int
	Calls     []string
}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) Model() string { return "mock-embedder" }

func (m *MockClient) Embed(ctx context.Context, text string, inputType domain.InputType) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, text)
	if m.Err != nil && (m.FailCount == 0 || len(m.Calls) <= m.FailCount) {
		return nil, m.Err
	}

	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, domain.EmbeddingDim)
	var norm float64
	for i := range vec {
		v := float64(binary.BigEndian.Uint16(sum[(i*2)%30:])%1000)/1000 - 0.5
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// CallCount reports how many Embed calls the mock has served.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
