package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
)

const vectorRequestTimeout = 15 * time.Second

// QdrantStore talks to the Qdrant REST API.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewQdrantStore(baseURL, apiKey string) *QdrantStore {
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: vectorRequestTimeout},
	}
}

func (s *QdrantStore) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read qdrant response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal qdrant response: %w", err)
		}
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = qdrantPoint{ID: r.PointID.String(), Vector: r.Vector, Payload: r.Payload}
	}
	return s.do(ctx, http.MethodPut,
		"/collections/"+collection+"/points?wait=true",
		map[string]any{"points": points}, nil)
}

type qdrantCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

func buildFilter(filter domain.VectorFilter) map[string]any {
	out := map[string]any{}
	if len(filter.Must) > 0 {
		must := make([]qdrantCondition, len(filter.Must))
		for i, m := range filter.Must {
			must[i] = qdrantCondition{Key: m.Key, Match: map[string]any{"value": m.Value}}
		}
		out["must"] = must
	}
	if len(filter.Should) > 0 {
		should := make([]qdrantCondition, len(filter.Should))
		for i, m := range filter.Should {
			should[i] = qdrantCondition{Key: m.Key, Match: map[string]any{"value": m.Value}}
		}
		out["should"] = should
	}
	return out
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, filter domain.VectorFilter, limit int, scoreThreshold float64) ([]domain.VectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	payload := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if scoreThreshold > 0 {
		payload["score_threshold"] = scoreThreshold
	}
	if f := buildFilter(filter); len(f) > 0 {
		payload["filter"] = f
	}

	var result struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", payload, &result); err != nil {
		return nil, err
	}

	matches := make([]domain.VectorMatch, 0, len(result.Result))
	for _, hit := range result.Result {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		matches = append(matches, domain.VectorMatch{PointID: id, Score: hit.Score, Payload: hit.Payload})
	}
	return matches, nil
}

func (s *QdrantStore) DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = id.String()
	}
	return s.do(ctx, http.MethodPost,
		"/collections/"+collection+"/points/delete?wait=true",
		map[string]any{"points": points}, nil)
}

func (s *QdrantStore) HasPoint(ctx context.Context, collection string, id uuid.UUID) (bool, error) {
	var result struct {
		Result []struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost,
		"/collections/"+collection+"/points",
		map[string]any{"ids": []string{id.String()}}, &result)
	if err != nil {
		return false, err
	}
	return len(result.Result) > 0, nil
}

func (s *QdrantStore) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

// EnsureCollection creates the collection if it does not already exist.
// Cosine distance matches the scoring model used everywhere else.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string) error {
	err := s.do(ctx, http.MethodGet, "/collections/"+collection, nil, nil)
	if err == nil {
		return nil
	}
	return s.do(ctx, http.MethodPut, "/collections/"+collection, map[string]any{
		"vectors": map[string]any{
			"size":     domain.EmbeddingDim,
			"distance": "Cosine",
		},
	}, nil)
}
