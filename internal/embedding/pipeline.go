package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"go.uber.org/zap"
)

const (
	maxAttempts    = 3
	backoffStep    = 500 * time.Millisecond
	backoffCeiling = 2 * time.Second
)

// Pipeline retries transient embedder failures and validates every vector
// before it reaches a store. Callers that can degrade (storage without
// semantic search) treat the returned error as advisory.
type Pipeline struct {
	client domain.EmbeddingClient
	logger *zap.Logger
}

func NewPipeline(client domain.EmbeddingClient, logger *zap.Logger) *Pipeline {
	return &Pipeline{client: client, logger: logger}
}

func (p *Pipeline) Model() string { return p.client.Model() }

// Embed returns a validated vector or ErrEmbeddingUnavailable after the
// retry budget is spent. Invalid vectors are never retried.
func (p *Pipeline) Embed(ctx context.Context, text string, inputType domain.InputType) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vec, err := p.client.Embed(ctx, text, inputType)
		if err == nil {
			if verr := ValidateVector(vec); verr != nil {
				return nil, verr
			}
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			delay := time.Duration(attempt) * backoffStep
			if delay > backoffCeiling {
				delay = backoffCeiling
			}
			p.logger.Warn("embedding attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, lastErr)
}
