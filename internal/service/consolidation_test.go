package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/llm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type consolidationFixture struct {
	svc *ConsolidationService
	ef  *episodeFixture
	llm *llm.MockClient
	now time.Time
}

func newConsolidationFixture() *consolidationFixture {
	ef := newEpisodeFixture()
	f := &consolidationFixture{
		ef:  ef,
		llm: llm.NewMockClient(),
		now: time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewConsolidationService(ef.graph, f.llm, ef.svc, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

// seedFaded writes an episode directly into the graph with an age and
// importance that put its decayed importance under the sweep floor.
func (f *consolidationFixture) seedFaded(t *testing.T, content string, epType domain.EpisodeType, age time.Duration) uuid.UUID {
	t.Helper()
	importance := 0.2
	ep := &domain.Episode{
		ID:          uuid.New(),
		Type:        epType,
		Content:     content,
		ContentHash: ContentHash(content),
		Importance:  importance,
		DecayRate:   domain.DeriveDecayRate(importance),
		Timestamp:   f.now.Add(-age),
		Tenant:      testTenant(),
	}
	require.NoError(t, f.ef.graph.CreateEpisode(context.Background(), ep))
	return ep.ID
}

func TestConsolidateMemoriesGroupsAndSummarizes(t *testing.T) {
	f := newConsolidationFixture()
	f.llm.SummarizeResponse = "Weekly noise about flaky integration tests."

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.seedFaded(t,
			fmt.Sprintf("Flaky integration test report number %d from the old sprint.", i),
			domain.EpisodeObservation, 30*24*time.Hour+time.Duration(i)*time.Hour))
	}

	count, err := f.svc.ConsolidateMemories(context.Background(), f.now.Add(-7*24*time.Hour), testTenant())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, id := range ids {
		assert.True(t, f.ef.graph.episodes[id].Consolidated)
	}

	// The summary episode lives in the shared system lane.
	var summary *domain.Episode
	for _, ep := range f.ef.graph.episodes {
		if ep.Type == domain.EpisodeSummary {
			summary = ep
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, domain.SystemUserID, summary.Tenant.UserID)
	assert.False(t, summary.Consolidated)

	assert.Len(t, f.ef.graph.edgesOfType(domain.EdgeSummarizedIn), 3)
	require.Len(t, f.llm.SummarizeCalls, 1)
	assert.Len(t, f.llm.SummarizeCalls[0], 3)
}

func TestConsolidateMemoriesSkipsHighImportance(t *testing.T) {
	f := newConsolidationFixture()

	important := 0.95
	ep := &domain.Episode{
		ID:          uuid.New(),
		Type:        domain.EpisodeInsight,
		Content:     "A durable insight that must never be rolled into a summary.",
		ContentHash: ContentHash("durable"),
		Importance:  important,
		DecayRate:   domain.DeriveDecayRate(important),
		Timestamp:   f.now.Add(-60 * 24 * time.Hour),
		Tenant:      testTenant(),
	}
	require.NoError(t, f.ef.graph.CreateEpisode(context.Background(), ep))
	f.seedFaded(t, "One lone faded observation with no group partner.", domain.EpisodeObservation, 30*24*time.Hour)

	count, err := f.svc.ConsolidateMemories(context.Background(), f.now.Add(-7*24*time.Hour), testTenant())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, f.ef.graph.episodes[ep.ID].Consolidated)
}

func TestConsolidateMemoriesSummaryFallback(t *testing.T) {
	f := newConsolidationFixture()
	f.llm.SummarizeError = errors.New("openrouter down")

	f.seedFaded(t, "First stale deployment log entry of the quarter.", domain.EpisodeObservation, 20*24*time.Hour)
	f.seedFaded(t, "Second stale deployment log entry of the quarter.", domain.EpisodeObservation, 20*24*time.Hour)

	count, err := f.svc.ConsolidateMemories(context.Background(), f.now.Add(-7*24*time.Hour), testTenant())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var summary *domain.Episode
	for _, ep := range f.ef.graph.episodes {
		if ep.Type == domain.EpisodeSummary {
			summary = ep
		}
	}
	require.NotNil(t, summary)
	assert.Contains(t, summary.Content, "Consolidated:")
}

func TestGroupEpisodesSplitsOnWindow(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration) domain.Episode {
		return domain.Episode{ID: uuid.New(), Type: domain.EpisodeObservation, Timestamp: base.Add(offset)}
	}

	// Two clusters more than 12 hours apart, two members each.
	groups := groupEpisodes([]domain.Episode{
		mk(0), mk(time.Hour),
		mk(30 * time.Hour), mk(31 * time.Hour),
	})
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
}

func TestGroupEpisodesStraysRejoinByType(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration) domain.Episode {
		return domain.Episode{ID: uuid.New(), Type: domain.EpisodeObservation, Timestamp: base.Add(offset)}
	}

	// Three singleton windows of the same type still consolidate together.
	groups := groupEpisodes([]domain.Episode{mk(0), mk(20 * time.Hour), mk(40 * time.Hour)})
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
}

func TestTrackRegistersLanes(t *testing.T) {
	f := newConsolidationFixture()

	f.svc.Track(testTenant())
	f.svc.Track(testTenant())
	f.svc.Track(domain.TenantContext{})

	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	assert.Len(t, f.svc.tenants, 1)
}
