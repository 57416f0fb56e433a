package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTokenBudgetReservesOverhead(t *testing.T) {
	b := NewTokenBudget(1000, zap.NewNop())

	stats := b.Stats()
	assert.Equal(t, 1000, stats.Total)
	assert.Equal(t, 900, stats.Available)
	assert.Equal(t, 100, stats.Used)
	assert.Equal(t, 100, stats.Overhead)
	assert.InDelta(t, 10.0, stats.PercentUsed, 0.001)
	assert.Equal(t, 100, stats.Sections["overhead"])
}

func TestTokenBudgetAllocate(t *testing.T) {
	b := NewTokenBudget(1000, zap.NewNop())

	assert.True(t, b.Allocate("episodes", 500))
	assert.Equal(t, 400, b.Stats().Available)

	// A request larger than the remainder is rejected whole; the
	// remainder stays intact for smaller sections.
	assert.False(t, b.Allocate("episodes", 600))
	assert.Equal(t, 400, b.Stats().Available)

	assert.True(t, b.Allocate("facts", 400))
	assert.Equal(t, 0, b.Stats().Available)
	assert.False(t, b.Allocate("facts", 10))
}

func TestTokenBudgetRejectsOversizedRequest(t *testing.T) {
	b := NewTokenBudget(100, zap.NewNop())
	require.Equal(t, 90, b.Stats().Available)

	assert.False(t, b.Allocate("episodes", 200))

	stats := b.Stats()
	assert.Equal(t, 90, stats.Available)
	assert.Equal(t, 10, stats.Used)
	assert.Zero(t, stats.Sections["episodes"])
}

func TestTokenBudgetStatsAccounting(t *testing.T) {
	b := NewTokenBudget(1000, zap.NewNop())
	b.Allocate("episodes", 300)
	b.Allocate("temporal_context", 100)

	stats := b.Stats()
	assert.Equal(t, 1000, stats.Total)
	assert.Equal(t, 500, stats.Used)
	assert.Equal(t, 500, stats.Available)
	assert.Equal(t, 100, stats.Overhead)
	assert.Equal(t, stats.Total, stats.Used+stats.Available)
	assert.InDelta(t, 50.0, stats.PercentUsed, 0.001)
	assert.Equal(t, 300, stats.Sections["episodes"])
	assert.Equal(t, 100, stats.Sections["temporal_context"])
}

func TestTokenBudgetExhaustion(t *testing.T) {
	b := NewTokenBudget(1000, zap.NewNop())
	assert.False(t, b.IsExhausted())

	require.True(t, b.Allocate("episodes", 860))
	// 40 remaining out of 1000 is under the 5% floor.
	assert.True(t, b.IsExhausted())
}

func TestTokenBudgetZeroRequest(t *testing.T) {
	b := NewTokenBudget(1000, zap.NewNop())
	assert.True(t, b.Allocate("episodes", 0))
	assert.True(t, b.Allocate("episodes", -5))
	assert.Equal(t, 900, b.Stats().Available)
}

func TestEstimateTokensScalesWithPayload(t *testing.T) {
	small := EstimateTokens(map[string]string{"content": "short"})
	large := EstimateTokens(map[string]string{"content": strings.Repeat("lorem ipsum ", 100)})

	require.Greater(t, small, 0)
	assert.Greater(t, large, small*10)
}

func TestEstimateTokensPadding(t *testing.T) {
	// "abcd" marshals to 6 JSON bytes; 6/4*1.2 rounds up to 2.
	assert.Equal(t, 2, EstimateTokens("abcd"))
}
