package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// EpisodeType classifies what kind of interaction an episode records.
type EpisodeType string

const (
	EpisodeUserQuery           EpisodeType = "user_query"
	EpisodeSystemResponse      EpisodeType = "system_response"
	EpisodeDocumentInteraction EpisodeType = "document_interaction"
	EpisodeEntityMention       EpisodeType = "entity_mention"
	EpisodeSummary             EpisodeType = "summary"
	EpisodeEvent               EpisodeType = "event"
	EpisodeObservation         EpisodeType = "observation"
	EpisodeInsight             EpisodeType = "insight"
)

func ValidEpisodeType(s string) bool {
	switch EpisodeType(s) {
	case EpisodeUserQuery, EpisodeSystemResponse, EpisodeDocumentInteraction,
		EpisodeEntityMention, EpisodeSummary, EpisodeEvent, EpisodeObservation, EpisodeInsight:
		return true
	}
	return false
}

// MaxSummaryLength bounds the optional episode summary.
const MaxSummaryLength = 300

// Episode is a memory item specialized for a single interaction or
// observation. (content_hash, tenant scope) is unique; duplicate writes
// return the existing episode.
type Episode struct {
	ID            uuid.UUID      `json:"id"`
	Type          EpisodeType    `json:"type"`
	Content       string         `json:"content"`
	Summary       string         `json:"summary,omitempty"`
	ContentHash   string         `json:"content_hash"`
	Importance    float64        `json:"importance"`
	DecayRate     float64        `json:"decay_rate"`
	HasEmbedding  bool           `json:"has_embedding"`
	Consolidated  bool           `json:"consolidated"`
	InteractionID string         `json:"interaction_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Tenant        TenantContext  `json:"tenant"`

	Entities []ExtractedEntity `json:"entities,omitempty"`
	Facts    []ExtractedFact   `json:"facts,omitempty"`
}

// DeriveDecayRate derives the forgetting rate from importance: important
// episodes decay slower.
func DeriveDecayRate(importance float64) float64 {
	return 0.1 * (1 - Clamp01(importance))
}

// DecayedImportance applies exponential decay over elapsed days.
func DecayedImportance(importance, decayRate, days float64) float64 {
	return importance * math.Exp(-decayRate*days)
}

// EdgeType labels a relation between two episodes (or an episode and an
// entity for MENTIONS, or two memories for SIMILAR_TO).
type EdgeType string

const (
	EdgeTemporal      EdgeType = "TEMPORAL"
	EdgeCausal        EdgeType = "CAUSAL"
	EdgeReference     EdgeType = "REFERENCE"
	EdgeContradiction EdgeType = "CONTRADICTION"
	EdgeElaboration   EdgeType = "ELABORATION"
	EdgeSummarizedIn  EdgeType = "SUMMARIZED_IN"
	EdgeMentions      EdgeType = "MENTIONS"
	EdgeSimilarTo     EdgeType = "SIMILAR_TO"
)

// Edge weights are fixed by relation semantics at creation time.
const (
	TemporalEdgeWeight = 1.0
	CausalEdgeWeight   = 0.9
)

// Edge links two nodes in the property graph.
type Edge struct {
	ID        uuid.UUID `json:"id"`
	SourceID  uuid.UUID `json:"source_id"`
	TargetID  uuid.UUID `json:"target_id"`
	Type      EdgeType  `json:"type"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectedEpisode is an adjacent episode returned by a graph fetch.
type ConnectedEpisode struct {
	Episode
	Relation EdgeType `json:"relation"`
	Weight   float64  `json:"weight"`
}
