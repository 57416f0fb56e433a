package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adverant/nexus-memory/internal/api/middleware"
	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type EpisodeHandler struct {
	episodes *service.EpisodeService
	recall   *service.RecallService
}

func NewEpisodeHandler(episodes *service.EpisodeService, recall *service.RecallService) *EpisodeHandler {
	return &EpisodeHandler{episodes: episodes, recall: recall}
}

type storeEpisodeRequest struct {
	Content       string         `json:"content"`
	Type          string         `json:"type"`
	Summary       string         `json:"summary,omitempty"`
	Importance    *float64       `json:"importance,omitempty"`
	InteractionID string         `json:"interaction_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (h *EpisodeHandler) Store(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	var req storeEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.episodes.StoreEpisode(r.Context(), service.StoreEpisodeRequest{
		Content:       req.Content,
		Type:          domain.EpisodeType(req.Type),
		Summary:       req.Summary,
		Importance:    req.Importance,
		InteractionID: req.InteractionID,
		Metadata:      req.Metadata,
		Tenant:        tenant,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *EpisodeHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}

	episode, err := h.episodes.GetEpisode(r.Context(), id, tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, episode)
}

type recallEpisodesRequest struct {
	Query         string     `json:"query"`
	TypeFilter    []string   `json:"type_filter,omitempty"`
	EntityFilter  []string   `json:"entity_filter,omitempty"`
	TimeStart     *time.Time `json:"time_start,omitempty"`
	TimeEnd       *time.Time `json:"time_end,omitempty"`
	MaxResults    int        `json:"max_results,omitempty"`
	ResponseLevel string     `json:"response_level,omitempty"`
	MaxTokens     int        `json:"max_tokens,omitempty"`

	Weights *domain.ScoringWeights `json:"weights,omitempty"`
}

func (h *EpisodeHandler) Recall(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	var req recallEpisodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	types := make([]domain.EpisodeType, 0, len(req.TypeFilter))
	for _, t := range req.TypeFilter {
		if !domain.ValidEpisodeType(t) {
			writeError(w, http.StatusBadRequest, "unknown episode type in type_filter: "+t)
			return
		}
		types = append(types, domain.EpisodeType(t))
	}

	result, err := h.recall.RecallEpisodes(r.Context(), service.RecallEpisodesRequest{
		Query:         req.Query,
		TypeFilter:    types,
		EntityFilter:  req.EntityFilter,
		TimeStart:     req.TimeStart,
		TimeEnd:       req.TimeEnd,
		MaxResults:    req.MaxResults,
		ResponseLevel: service.ResponseLevel(req.ResponseLevel),
		MaxTokens:     req.MaxTokens,
		Weights:       req.Weights,
		Tenant:        tenant,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateImportanceRequest struct {
	Importance float64 `json:"importance"`
}

func (h *EpisodeHandler) UpdateImportance(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}

	var req updateImportanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.episodes.UpdateImportance(r.Context(), id, req.Importance, tenant); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"importance": req.Importance,
		"decay_rate": domain.DeriveDecayRate(req.Importance),
	})
}

type mergeEntitiesRequest struct {
	EntityIDs []uuid.UUID `json:"entity_ids"`
}

func (h *EpisodeHandler) MergeEntities(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	var req mergeEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	merged, err := h.episodes.MergeEntities(r.Context(), req.EntityIDs, tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

type validateFactRequest struct {
	IsValid bool `json:"is_valid"`
}

func (h *EpisodeHandler) ValidateFact(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fact id")
		return
	}

	var req validateFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.episodes.ValidateFact(r.Context(), id, req.IsValid, tenant); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_valid": req.IsValid})
}
