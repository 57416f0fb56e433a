package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/adverant/nexus-memory/internal/domain"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// Tenant header names. Authentication happens upstream; by the time a
// request reaches this service the gateway has already established who the
// caller is and forwards the identity in these headers.
const (
	CompanyIDHeader = "X-Company-ID"
	AppIDHeader     = "X-App-ID"
	UserIDHeader    = "X-User-ID"
	SessionIDHeader = "X-Session-ID"
)

// TenantFromContext returns the tenant established by the Tenant middleware.
func TenantFromContext(ctx context.Context) (domain.TenantContext, bool) {
	t, ok := ctx.Value(tenantContextKey).(domain.TenantContext)
	return t, ok
}

// Tenant extracts the tenant identity headers and rejects requests missing
// any of the three mandatory fields. Every route behind this middleware can
// assume a valid tenant in context.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := domain.TenantContext{
			CompanyID: strings.TrimSpace(r.Header.Get(CompanyIDHeader)),
			AppID:     strings.TrimSpace(r.Header.Get(AppIDHeader)),
			UserID:    strings.TrimSpace(r.Header.Get(UserIDHeader)),
			SessionID: strings.TrimSpace(r.Header.Get(SessionIDHeader)),
		}
		if err := t.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey, t)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
