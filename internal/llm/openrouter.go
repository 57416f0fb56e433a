package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/adverant/nexus-memory/internal/domain"
)

const (
	openRouterChatURL = "https://openrouter.ai/api/v1/chat/completions"
	chatModel         = "openai/gpt-4o-mini"
)

type OpenRouterClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenRouterClient) complete(ctx context.Context, messages []chatMessage, temp float32, jsonMode bool) (string, error) {
	reqPayload := chatRequest{
		Model:       chatModel,
		Messages:    messages,
		Temperature: temp,
	}
	if jsonMode {
		reqPayload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openRouterChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// stripFences removes markdown code fences some models wrap JSON in even
// under json_object mode.
func stripFences(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (c *OpenRouterClient) ExtractEntities(ctx context.Context, content string) ([]domain.LLMEntity, error) {
	messages := []chatMessage{
		{Role: "user", Content: fmt.Sprintf(entityExtractionPrompt, content)},
	}

	result, err := c.complete(ctx, messages, 0.2, true)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	result = stripFences(result)

	var parsed struct {
		Entities []domain.LLMEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		return nil, fmt.Errorf("parse entity extraction result: %w (raw: %s)", err, result)
	}
	return parsed.Entities, nil
}

func (c *OpenRouterClient) ClassifyEntity(ctx context.Context, name string) (*domain.Classification, error) {
	out, err := c.ClassifyEntities(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	cls, ok := out[name]
	if !ok {
		return nil, fmt.Errorf("classification missing for %q", name)
	}
	return &cls, nil
}

func (c *OpenRouterClient) ClassifyEntities(ctx context.Context, names []string) (map[string]domain.Classification, error) {
	if len(names) == 0 {
		return map[string]domain.Classification{}, nil
	}

	list, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("marshal entity names: %w", err)
	}
	messages := []chatMessage{
		{Role: "user", Content: fmt.Sprintf(entityClassificationPrompt, string(list))},
	}

	result, err := c.complete(ctx, messages, 0, true)
	if err != nil {
		return nil, fmt.Errorf("classify entities: %w", err)
	}
	result = stripFences(result)

	var parsed struct {
		Classifications []struct {
			Name       string  `json:"name"`
			Type       string  `json:"type"`
			Confidence float64 `json:"confidence"`
		} `json:"classifications"`
	}
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		return nil, fmt.Errorf("parse classification result: %w (raw: %s)", err, result)
	}

	out := make(map[string]domain.Classification, len(parsed.Classifications))
	for _, cl := range parsed.Classifications {
		out[cl.Name] = domain.Classification{
			Type:       domain.CoerceEntityType(cl.Type),
			Confidence: domain.Clamp01(cl.Confidence),
		}
	}
	return out, nil
}

func (c *OpenRouterClient) Summarize(ctx context.Context, contents []string) (string, error) {
	var sb strings.Builder
	for i, content := range contents {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, content))
	}

	messages := []chatMessage{
		{Role: "user", Content: fmt.Sprintf(summarizePrompt, sb.String())},
	}

	result, err := c.complete(ctx, messages, 0.3, false)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return result, nil
}
