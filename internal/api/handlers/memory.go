package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/adverant/nexus-memory/internal/api/middleware"
	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/adverant/nexus-memory/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type MemoryHandler struct {
	storage *service.StorageService
	recall  *service.RecallService
}

func NewMemoryHandler(storage *service.StorageService, recall *service.RecallService) *MemoryHandler {
	return &MemoryHandler{storage: storage, recall: recall}
}

type storeMemoryRequest struct {
	Content        string         `json:"content"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Importance     float64        `json:"importance,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.storage.StoreMemory(r.Context(), service.StoreMemoryRequest{
		Content:        req.Content,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
		Importance:     req.Importance,
		IdempotencyKey: req.IdempotencyKey,
		Tenant:         tenant,
	})
	if err != nil {
		var serr *domain.StorageError
		if errors.As(err, &serr) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":       "storage saga failed",
				"saga_id":     serr.SagaID,
				"failed_step": serr.FailedStep,
			})
			return
		}
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	memory, err := h.storage.GetMemory(r.Context(), id, tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memory)
}

func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	out, err := h.storage.ListMemories(r.Context(), tenant, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	if err := h.storage.DeleteMemory(r.Context(), id, tenant); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recallMemoriesRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	Rerank bool   `json:"rerank,omitempty"`
}

type recallMemoriesResponse struct {
	Memories []service.MemoryResult `json:"memories"`
	Query    string                 `json:"query"`
	Count    int                    `json:"count"`
}

func (h *MemoryHandler) Recall(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant context missing")
		return
	}

	var req recallMemoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.recall.RecallMemories(r.Context(), service.RecallMemoriesRequest{
		Query:  req.Query,
		Limit:  req.Limit,
		Rerank: req.Rerank,
		Tenant: tenant,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if results == nil {
		results = []service.MemoryResult{}
	}

	writeJSON(w, http.StatusOK, recallMemoriesResponse{
		Memories: results,
		Query:    req.Query,
		Count:    len(results),
	})
}
