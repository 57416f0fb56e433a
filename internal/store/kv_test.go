package store

import (
	"context"
	"testing"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

var kvTenant = domain.TenantContext{CompanyID: "acme", AppID: "crm", UserID: "u1"}

func TestCacheMemoryRoundTrip(t *testing.T) {
	s, _ := newTestRedis(t)
	m := &domain.Memory{
		ID:         uuid.New(),
		Content:    "cached content",
		Importance: 0.7,
		Timestamp:  time.Now().UTC().Truncate(time.Second),
		Tenant:     kvTenant,
	}

	require.NoError(t, s.CacheMemory(context.Background(), m, time.Minute))

	got, err := s.GetCachedMemory(context.Background(), m.ID, kvTenant)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Importance, got.Importance)
}

func TestGetCachedMemoryMissReturnsNotFound(t *testing.T) {
	s, _ := newTestRedis(t)
	_, err := s.GetCachedMemory(context.Background(), uuid.New(), kvTenant)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCachedMemoryIsScopedToTenant(t *testing.T) {
	s, _ := newTestRedis(t)
	m := &domain.Memory{ID: uuid.New(), Content: "private", Tenant: kvTenant}
	require.NoError(t, s.CacheMemory(context.Background(), m, time.Minute))

	other := domain.TenantContext{CompanyID: "other", AppID: "crm", UserID: "u1"}
	_, err := s.GetCachedMemory(context.Background(), m.ID, other)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPushRecentKeepsNewestFirst(t *testing.T) {
	s, _ := newTestRedis(t)
	first, second := uuid.New(), uuid.New()

	require.NoError(t, s.PushRecent(context.Background(), kvTenant, first))
	require.NoError(t, s.PushRecent(context.Background(), kvTenant, second))

	ids, err := s.RecentIDs(context.Background(), kvTenant, 10)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, second, ids[0])
	assert.Equal(t, first, ids[1])
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s, mr := newTestRedis(t)
	vec := []float32{0.1, 0.2, 0.3}

	require.NoError(t, s.SetEmbedding(context.Background(), "emb:test", vec, time.Hour))

	got, err := s.GetEmbedding(context.Background(), "emb:test")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	mr.FastForward(2 * time.Hour)
	got, err = s.GetEmbedding(context.Background(), "emb:test")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetEmbeddingMissReturnsNil(t *testing.T) {
	s, _ := newTestRedis(t)
	got, err := s.GetEmbedding(context.Background(), "emb:absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}
