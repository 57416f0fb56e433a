package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// recentListMax bounds the per-scope recent-memory list.
	recentListMax = 1000

	defaultMemoryTTL = time.Hour
)

// RedisStore is the hot cache: recently stored memories, the bounded
// recent-id list, and embedding blobs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func memoryKey(t domain.TenantContext, id uuid.UUID) string {
	return "mem:" + t.ScopeKey() + ":" + id.String()
}

func recentKey(t domain.TenantContext) string {
	return "recent:" + t.ScopeKey()
}

func (s *RedisStore) CacheMemory(ctx context.Context, m *domain.Memory, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	return s.client.Set(ctx, memoryKey(m.Tenant, m.ID), raw, ttl).Err()
}

func (s *RedisStore) GetCachedMemory(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.Memory, error) {
	raw, err := s.client.Get(ctx, memoryKey(tenant, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var m domain.Memory
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal cached memory: %w", err)
	}
	return &m, nil
}

func (s *RedisStore) PushRecent(ctx context.Context, tenant domain.TenantContext, id uuid.UUID) error {
	key := recentKey(tenant)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, id.String())
	pipe.LTrim(ctx, key, 0, recentListMax-1)
	_, err := pipe.Exec(ctx)
	return err
}

// RecentIDs returns up to limit most recently stored memory ids for the
// scope, newest first.
func (s *RedisStore) RecentIDs(ctx context.Context, tenant domain.TenantContext, limit int) ([]uuid.UUID, error) {
	if limit <= 0 || limit > recentListMax {
		limit = recentListMax
	}
	raw, err := s.client.LRange(ctx, recentKey(tenant), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		if id, err := uuid.Parse(r); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func idempotencyKey(t domain.TenantContext, key string) string {
	return "idem:" + t.ScopeKey() + ":" + key
}

func (s *RedisStore) GetIdempotentID(ctx context.Context, tenant domain.TenantContext, key string) (uuid.UUID, error) {
	raw, err := s.client.Get(ctx, idempotencyKey(tenant, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, domain.ErrNotFound
		}
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

func (s *RedisStore) SetIdempotentID(ctx context.Context, tenant domain.TenantContext, key string, id uuid.UUID, ttl time.Duration) error {
	return s.client.Set(ctx, idempotencyKey(tenant, key), id.String(), ttl).Err()
}

func (s *RedisStore) GetEmbedding(ctx context.Context, key string) ([]float32, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, fmt.Errorf("unmarshal cached embedding: %w", err)
	}
	return vec, nil
}

func (s *RedisStore) SetEmbedding(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	return s.client.Set(ctx, key, raw, ttl).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
