package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/sony/gobreaker"
)

const (
	voyageEmbeddingURL = "https://api.voyageai.com/v1/embeddings"
	voyageModel        = "voyage-3"

	requestTimeout = 30 * time.Second
)

// VoyageClient calls the Voyage embeddings API. A circuit breaker keeps a
// flapping embedder from stalling every write with full retry cycles.
type VoyageClient struct {
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewVoyageClient(apiKey string) *VoyageClient {
	return &VoyageClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "voyage-embeddings",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model  string `json:"model"`
	Detail string `json:"detail,omitempty"`
}

func (c *VoyageClient) Model() string { return voyageModel }

func (c *VoyageClient) Embed(ctx context.Context, text string, inputType domain.InputType) ([]float32, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.embed(ctx, text, inputType)
	})
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}

func (c *VoyageClient) embed(ctx context.Context, text string, inputType domain.InputType) ([]float32, error) {
	body, err := json.Marshal(voyageRequest{
		Input:     []string{text},
		Model:     voyageModel,
		InputType: string(inputType),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageEmbeddingURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result voyageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no data")
	}

	vec := result.Data[0].Embedding
	if err := ValidateVector(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// ValidateVector rejects wrong-dimension vectors and non-finite values.
func ValidateVector(vec []float32) error {
	if len(vec) != domain.EmbeddingDim {
		return fmt.Errorf("%w: got %d dimensions, want %d", domain.ErrInvalidEmbedding, len(vec), domain.EmbeddingDim)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", domain.ErrInvalidEmbedding, i)
		}
	}
	return nil
}
