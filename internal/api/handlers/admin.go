package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adverant/nexus-memory/internal/api/middleware"
	"github.com/adverant/nexus-memory/internal/service"
)

// AdminHandler serves the maintenance surface: consolidation sweeps and
// tenant memory statistics.
type AdminHandler struct {
	consolidation *service.ConsolidationService
	episodes      *service.EpisodeService
}

func NewAdminHandler(consolidation *service.ConsolidationService, episodes *service.EpisodeService) *AdminHandler {
	return &AdminHandler{consolidation: consolidation, episodes: episodes}
}

type consolidateRequest struct {
	// OlderThanHours bounds the sweep to episodes older than this. Defaults
	// to one week.
	OlderThanHours int `json:"older_than_hours,omitempty"`
}

type consolidateResponse struct {
	Consolidated int       `json:"consolidated"`
	Before       time.Time `json:"before"`
}

func (h *AdminHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	req := consolidateRequest{OlderThanHours: 7 * 24}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.OlderThanHours <= 0 {
		req.OlderThanHours = 7 * 24
	}

	before := time.Now().UTC().Add(-time.Duration(req.OlderThanHours) * time.Hour)
	count, err := h.consolidation.ConsolidateMemories(r.Context(), before, tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, consolidateResponse{Consolidated: count, Before: before})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	stats, err := h.episodes.GetMemoryStats(r.Context(), tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
