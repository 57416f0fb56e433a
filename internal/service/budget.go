// Package service holds the engines: storage saga orchestration, episodic
// writes, the recall pipeline, consolidation, and the response token budget.
package service

import (
	"encoding/json"
	"math"
	"sync"

	"go.uber.org/zap"
)

const (
	// budgetOverheadShare is reserved up front for response framing.
	budgetOverheadShare = 0.1

	// budgetExhaustedShare marks the budget exhausted when less than this
	// fraction remains.
	budgetExhaustedShare = 0.05

	// tokenEstimatePadding inflates the chars/4 token estimate, since
	// JSON-heavy payloads tokenize worse than prose.
	tokenEstimatePadding = 1.2
)

// TokenBudget rations response tokens across recall result sections so the
// assembled payload stays under the caller's context limit.
type TokenBudget struct {
	mu        sync.Mutex
	total     int
	overhead  int
	remaining int
	sections  map[string]int
	logger    *zap.Logger
}

func NewTokenBudget(total int, logger *zap.Logger) *TokenBudget {
	overhead := int(math.Ceil(float64(total) * budgetOverheadShare))
	return &TokenBudget{
		total:     total,
		overhead:  overhead,
		remaining: total - overhead,
		sections:  map[string]int{"overhead": overhead},
		logger:    logger,
	}
}

// EstimateTokens approximates the token cost of an arbitrary value via its
// JSON length.
func EstimateTokens(v any) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int(math.Ceil(float64(len(raw)) / 4 * tokenEstimatePadding))
}

// Allocate reserves tokens for a section. The request is all or nothing:
// when the remainder cannot cover it, nothing is taken and the caller
// drops the section, leaving the leftover available for cheaper ones.
func (b *TokenBudget) Allocate(section string, tokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tokens <= 0 {
		return true
	}
	if tokens > b.remaining {
		b.logger.Debug("token budget rejected allocation",
			zap.String("section", section), zap.Int("requested", tokens), zap.Int("available", b.remaining))
		return false
	}
	b.remaining -= tokens
	b.sections[section] += tokens
	return true
}

// IsExhausted reports whether the budget has too little left to be worth
// allocating from.
func (b *TokenBudget) IsExhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.remaining) < float64(b.total)*budgetExhaustedShare
}

// BudgetStats is a snapshot of the allocation state. Used counts every
// committed token including the overhead reserve, so Used + Available
// always equals Total.
type BudgetStats struct {
	Total       int            `json:"total"`
	Used        int            `json:"used"`
	Available   int            `json:"available"`
	Overhead    int            `json:"overhead"`
	PercentUsed float64        `json:"percent_used"`
	Sections    map[string]int `json:"sections"`
}

func (b *TokenBudget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	sections := make(map[string]int, len(b.sections))
	for k, v := range b.sections {
		sections[k] = v
	}
	used := b.total - b.remaining
	var pct float64
	if b.total > 0 {
		pct = float64(used) / float64(b.total) * 100
	}
	return BudgetStats{
		Total:       b.total,
		Used:        used,
		Available:   b.remaining,
		Overhead:    b.overhead,
		PercentUsed: pct,
		Sections:    sections,
	}
}
