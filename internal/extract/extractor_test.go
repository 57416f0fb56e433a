package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/llm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		MinConfidence:       0.5,
		MinNameLength:       3,
		MaxEntities:         20,
		LLMEnabled:          true,
		RegexFallback:       true,
		FactMinConfidence:   0.5,
		MaxFacts:            10,
		FactMinObjectLength: 5,
		FactMaxObjectLength: 100,
	}
}

func testTenant() domain.TenantContext {
	return domain.TenantContext{CompanyID: "acme", AppID: "crm", UserID: "u1"}
}

func TestExtractLLMPath(t *testing.T) {
	mock := llm.NewMockClient()
	mock.ExtractResponse = []domain.LLMEntity{
		{Name: "Kubernetes", Type: "technology", Confidence: 0.9},
		{Name: "Sarah Okafor", Type: "person", Confidence: 0.85},
		{Name: "the", Type: "concept", Confidence: 0.9},
		{Name: "Elasticsearch", Type: "technology", Confidence: 0.2},
	}
	e := New(mock, nil, nil, testOptions(), zap.NewNop())

	res, err := e.Extract(context.Background(),
		"Sarah Okafor migrated the search tier from Elasticsearch to Kubernetes.",
		uuid.New(), testTenant(), time.Now())
	require.NoError(t, err)

	names := make(map[string]domain.EntityType)
	for _, ent := range res.Entities {
		names[ent.Name] = ent.Type
	}
	assert.Equal(t, domain.EntityTechnology, names["Kubernetes"])
	assert.Equal(t, domain.EntityPerson, names["Sarah Okafor"])
	// Stopwords and sub-threshold confidence are dropped even when the LLM
	// returns them.
	assert.NotContains(t, names, "the")
	assert.NotContains(t, names, "Elasticsearch")
}

func TestExtractRegexFallback(t *testing.T) {
	mock := llm.NewMockClient()
	mock.ExtractError = errors.New("openrouter timeout")
	e := New(mock, nil, nil, testOptions(), zap.NewNop())

	res, err := e.Extract(context.Background(),
		"Marcus Webb reviewed scheduler.go and approved the rollout.",
		uuid.New(), testTenant(), time.Now())
	require.NoError(t, err)

	var names []string
	for _, ent := range res.Entities {
		names = append(names, ent.Name)
	}
	assert.Contains(t, names, "Marcus Webb")
	assert.Contains(t, names, "scheduler.go")
}

func TestExtractTemporalEntities(t *testing.T) {
	mock := llm.NewMockClient()
	e := New(mock, nil, nil, testOptions(), zap.NewNop())

	res, err := e.Extract(context.Background(),
		"The cutover to the new billing stack happens on 2026-03-15 at the latest.",
		uuid.New(), testTenant(), time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, res.Temporal)

	var temporalEntity *domain.ExtractedEntity
	for i := range res.Entities {
		if res.Entities[i].Type == domain.EntityTemporal {
			temporalEntity = &res.Entities[i]
		}
	}
	require.NotNil(t, temporalEntity)
	assert.Equal(t, "2026-03-15", temporalEntity.NormalizedValue)
}

func TestExtractCapsEntities(t *testing.T) {
	mock := llm.NewMockClient()
	var raw []domain.LLMEntity
	for _, name := range []string{
		"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf",
	} {
		raw = append(raw, domain.LLMEntity{Name: name, Type: "concept", Confidence: 0.9})
	}
	mock.ExtractResponse = raw

	opts := testOptions()
	opts.MaxEntities = 5
	e := New(mock, nil, nil, opts, zap.NewNop())

	res, err := e.Extract(context.Background(),
		"Alpha Bravo Charlie Delta Echo Foxtrot Golf teams met about quotas.",
		uuid.New(), testTenant(), time.Now())
	require.NoError(t, err)
	assert.Len(t, res.Entities, 5)
}

func TestExtractFacts(t *testing.T) {
	mock := llm.NewMockClient()
	e := New(mock, nil, nil, testOptions(), zap.NewNop())
	episodeID := uuid.New()

	res, err := e.Extract(context.Background(),
		"PostgreSQL supports logical replication. Billing API depends on the ledger queue.",
		episodeID, testTenant(), time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, res.Facts)

	byPredicate := make(map[string]domain.ExtractedFact)
	for _, f := range res.Facts {
		byPredicate[f.Predicate] = f
	}

	supports, ok := byPredicate["supports"]
	require.True(t, ok)
	assert.Equal(t, "PostgreSQL", supports.Subject)
	assert.Equal(t, "logical replication", supports.Object)
	assert.True(t, supports.IsValid)
	assert.Equal(t, episodeID, supports.SourceEpisodeID)

	depends, ok := byPredicate["depends on"]
	require.True(t, ok)
	assert.Equal(t, "Billing API", depends.Subject)
}

func TestSalience(t *testing.T) {
	content := "Redis is fast. Redis is used everywhere in the cache tier."
	assert.InDelta(t, 0.7, Salience(content, "Redis"), 1e-9)
	assert.Zero(t, Salience(content, "Kafka"))
	assert.Zero(t, Salience("", "Redis"))
}

func TestRejectName(t *testing.T) {
	cases := []struct {
		name   string
		reason FilterReason
		drop   bool
	}{
		{"the", FilterStopword, true},
		{"ab", FilterTooShort, true},
		{"The deploy window", FilterNonEntityPhrase, true},
		{"4242", FilterNonEntityPhrase, true},
		{"Grafana", "", false},
	}
	for _, tc := range cases {
		reason, drop := rejectName(tc.name, 3)
		assert.Equal(t, tc.drop, drop, tc.name)
		assert.Equal(t, tc.reason, reason, tc.name)
	}
}

func TestQueryEntities(t *testing.T) {
	out := QueryEntities(`What did "Emily Chen" decide about the billing_service rollout?`, 10)
	require.NotEmpty(t, out)
	assert.Equal(t, "Emily Chen", out[0])
	assert.Contains(t, out, "billing_service")
	assert.NotContains(t, out, "What")
}

func TestQueryEntitiesCap(t *testing.T) {
	out := QueryEntities("Grafana Prometheus Loki Tempo Mimir dashboards alerting", 3)
	assert.Len(t, out, 3)
}
