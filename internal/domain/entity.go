package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityConcept      EntityType = "concept"
	EntityTechnology   EntityType = "technology"
	EntityFile         EntityType = "file"
	EntityFunction     EntityType = "function"
	EntityTemporal     EntityType = "temporal"
	EntityOther        EntityType = "other"
)

func ValidEntityType(s string) bool {
	switch EntityType(s) {
	case EntityPerson, EntityOrganization, EntityLocation, EntityConcept,
		EntityTechnology, EntityFile, EntityFunction, EntityTemporal, EntityOther:
		return true
	}
	return false
}

// CoerceEntityType maps arbitrary strings to a valid type, falling back to
// other. LLM output goes through this.
func CoerceEntityType(s string) EntityType {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if ValidEntityType(string(t)) {
		return t
	}
	return EntityOther
}

// TemporalType subtypes a temporal entity.
type TemporalType string

const (
	TemporalDate      TemporalType = "date"
	TemporalDuration  TemporalType = "duration"
	TemporalRelative  TemporalType = "relative"
	TemporalRecurring TemporalType = "recurring"
)

// ExtractedEntity is a named entity surfaced from episode content. Within a
// tenant there is at most one entity per canonical name; merges accumulate
// aliases.
type ExtractedEntity struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Type         EntityType `json:"type"`
	Confidence   float64    `json:"confidence"`
	Salience     float64    `json:"salience"`
	MentionCount int        `json:"mention_count"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	Aliases      []string   `json:"aliases,omitempty"`
	Merged       bool       `json:"merged,omitempty"`

	// Required when Type == temporal.
	TemporalType    TemporalType `json:"temporal_type,omitempty"`
	NormalizedValue string       `json:"normalized_value,omitempty"`

	Tenant TenantContext `json:"tenant"`
}

// CanonicalName normalizes an entity name for identity comparison.
func CanonicalName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Fact object length bounds enforced at extraction time.
const (
	FactMinObjectLength = 5
	FactMaxObjectLength = 100
)

// ExtractedFact is an append-only subject/predicate/object statement tied to
// the episode it came from. Validation toggles IsValid without erasing
// history.
type ExtractedFact struct {
	ID              uuid.UUID  `json:"id"`
	Subject         string     `json:"subject"`
	Predicate       string     `json:"predicate"`
	Object          string     `json:"object"`
	Confidence      float64    `json:"confidence"`
	SourceEpisodeID uuid.UUID  `json:"source_episode_id"`
	ExtractedAt     time.Time  `json:"extracted_at"`
	IsValid         bool       `json:"is_valid"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`

	Tenant TenantContext `json:"tenant"`
}

// Content renders the fact as its derived "S P O" string.
func (f ExtractedFact) Content() string {
	return fmt.Sprintf("%s %s %s", f.Subject, f.Predicate, f.Object)
}

// DedupKey is the case-insensitive identity used to drop duplicate facts
// within one extraction batch.
func (f ExtractedFact) DedupKey() string {
	return strings.ToLower(f.Subject + ":" + f.Predicate + ":" + f.Object)
}
