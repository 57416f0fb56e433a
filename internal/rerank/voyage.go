// Package rerank provides cross-encoder relevance scoring used by both the
// recall pipeline and entity resolution.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
)

const (
	voyageRerankURL = "https://api.voyageai.com/v1/rerank"
	voyageModel     = "rerank-2"

	requestTimeout = 30 * time.Second
)

type VoyageClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewVoyageClient(apiKey string) *VoyageClient {
	return &VoyageClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type voyageRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopK      int      `json:"top_k,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// Rerank scores documents against the query, highest relevance first.
func (c *VoyageClient) Rerank(ctx context.Context, query string, documents []string, topK int) ([]domain.RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	body, err := json.Marshal(voyageRequest{
		Query:     query,
		Documents: documents,
		Model:     voyageModel,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageRerankURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result voyageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal rerank response: %w", err)
	}

	out := make([]domain.RerankResult, 0, len(result.Data))
	for _, d := range result.Data {
		out = append(out, domain.RerankResult{Index: d.Index, Score: d.RelevanceScore})
	}
	return out, nil
}
