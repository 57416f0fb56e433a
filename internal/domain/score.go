package domain

import (
	"math"
	"time"
)

// Clamp01 bounds a score component to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScoringWeights blend the four hybrid score components. They always sum to
// 1.0 after Normalize.
type ScoringWeights struct {
	Vector     float64 `json:"vector"`
	Entity     float64 `json:"entity"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
}

// DefaultScoringWeights are the empirically tuned defaults.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Vector: 0.4, Entity: 0.25, Recency: 0.2, Importance: 0.15}
}

// Merge overlays caller-supplied weights onto w. Negative values are treated
// as zero; a field left at zero keeps the base value.
func (w ScoringWeights) Merge(o ScoringWeights) ScoringWeights {
	merged := w
	if o.Vector > 0 {
		merged.Vector = o.Vector
	}
	if o.Entity > 0 {
		merged.Entity = o.Entity
	}
	if o.Recency > 0 {
		merged.Recency = o.Recency
	}
	if o.Importance > 0 {
		merged.Importance = o.Importance
	}
	return merged
}

// Normalize rescales the weights to sum to 1.0. A degenerate all-zero set
// falls back to the defaults.
func (w ScoringWeights) Normalize() ScoringWeights {
	sum := w.Vector + w.Entity + w.Recency + w.Importance
	if sum <= 0 {
		return DefaultScoringWeights()
	}
	if math.Abs(sum-1.0) < 1e-9 {
		return w
	}
	return ScoringWeights{
		Vector:     w.Vector / sum,
		Entity:     w.Entity / sum,
		Recency:    w.Recency / sum,
		Importance: w.Importance / sum,
	}
}

// recencyHalfLifeDays: a week-old episode scores half of a fresh one.
const recencyHalfLifeDays = 7.0

// RecencyFactor decays with age at a 7-day half-life, floored at 0.01 so
// old episodes never fully vanish from scoring.
func RecencyFactor(age time.Duration) float64 {
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	f := math.Exp(-days * math.Ln2 / recencyHalfLifeDays)
	if f < 0.01 {
		return 0.01
	}
	if f > 1 {
		return 1
	}
	return f
}

// HybridScore is the per-candidate score breakdown. Every component and the
// final score are in [0,1].
type HybridScore struct {
	VectorSimilarity float64        `json:"vector_similarity"`
	EntityRelevance  float64        `json:"entity_relevance"`
	RecencyFactor    float64        `json:"recency_factor"`
	Importance       float64        `json:"importance"`
	FinalScore       float64        `json:"final_score"`
	WeightsApplied   ScoringWeights `json:"weights_applied"`
}

// Compute fills FinalScore from the components and weights, clamping
// everything on the way in and out.
func (h *HybridScore) Compute(w ScoringWeights) {
	h.VectorSimilarity = Clamp01(h.VectorSimilarity)
	h.EntityRelevance = Clamp01(h.EntityRelevance)
	h.RecencyFactor = Clamp01(h.RecencyFactor)
	h.Importance = Clamp01(h.Importance)
	h.WeightsApplied = w
	h.FinalScore = Clamp01(w.Vector*h.VectorSimilarity +
		w.Entity*h.EntityRelevance +
		w.Recency*h.RecencyFactor +
		w.Importance*h.Importance)
}
