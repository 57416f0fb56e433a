package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/metrics"
	"go.uber.org/zap"
)

// CachedClient wraps an EmbeddingClient with a key-value cache keyed on the
// normalized content hash plus the model id. Cache writes are fire-and-forget;
// a broken cache never fails an embed call.
type CachedClient struct {
	inner  domain.EmbeddingClient
	kv     domain.KVStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedClient(inner domain.EmbeddingClient, kv domain.KVStore, ttl time.Duration, logger *zap.Logger) *CachedClient {
	return &CachedClient{inner: inner, kv: kv, ttl: ttl, logger: logger}
}

func (c *CachedClient) Model() string { return c.inner.Model() }

func (c *CachedClient) Embed(ctx context.Context, text string, inputType domain.InputType) ([]float32, error) {
	key := CacheKey(text, c.inner.Model(), inputType)

	if vec, err := c.kv.GetEmbedding(ctx, key); err == nil && vec != nil {
		metrics.EmbeddingCacheLookups.WithLabelValues("hit").Inc()
		return vec, nil
	} else if err != nil {
		c.logger.Debug("embedding cache read failed", zap.Error(err))
	}
	metrics.EmbeddingCacheLookups.WithLabelValues("miss").Inc()

	vec, err := c.inner.Embed(ctx, text, inputType)
	if err != nil {
		return nil, err
	}

	if err := c.kv.SetEmbedding(ctx, key, vec, c.ttl); err != nil {
		c.logger.Debug("embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

// CacheKey hashes whitespace-normalized lowercase content together with the
// model id and input type, so model upgrades never serve stale vectors.
func CacheKey(text, model string, inputType domain.InputType) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return "emb:" + model + ":" + string(inputType) + ":" + hex.EncodeToString(sum[:])
}
