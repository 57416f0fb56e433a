package domain

import "strings"

const (
	// SystemUserID marks records readable by every user within the same
	// (company_id, app_id) scope.
	SystemUserID = "system"

	// LegacySystemLane is an older writer identity that predates the
	// system user convention. Readable for backward compatibility only.
	LegacySystemLane = "unified-memory"
)

// LegacyCompanyIDs is the undocumented allow-list of company ids that old
// deployments wrote under. Reads may include them when legacy reads are
// enabled; never generalize this list.
var LegacyCompanyIDs = []string{"nexus-default", "system", "adverant"}

// TenantContext identifies the owner of every persisted record. All reads
// and writes are scoped to it.
type TenantContext struct {
	CompanyID string `json:"company_id"`
	AppID     string `json:"app_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// Validate reports whether the context carries the three mandatory fields.
func (t TenantContext) Validate() error {
	if strings.TrimSpace(t.CompanyID) == "" || strings.TrimSpace(t.AppID) == "" || strings.TrimSpace(t.UserID) == "" {
		return ErrTenantRequired
	}
	return nil
}

// IsSystem reports whether the context writes into the shared system lane.
func (t TenantContext) IsSystem() bool {
	return t.UserID == SystemUserID
}

// ReadUserIDs returns the user ids a reader with this context may see:
// its own records plus the broadcast system lanes.
func (t TenantContext) ReadUserIDs() []string {
	if t.IsSystem() {
		return []string{SystemUserID, LegacySystemLane}
	}
	return []string{t.UserID, SystemUserID, LegacySystemLane}
}

// ScopeKey is the uniqueness scope for content-hash dedup. System writes
// dedup across users; user writes dedup per user.
func (t TenantContext) ScopeKey() string {
	return t.CompanyID + ":" + t.AppID + ":" + t.UserID
}

// CanRead reports whether a record owned by (company, app, user) is visible
// to this context. Legacy company lanes are handled by the stores behind a
// config flag, not here.
func (t TenantContext) CanRead(companyID, appID, userID string) bool {
	if companyID != t.CompanyID || appID != t.AppID {
		return false
	}
	if userID == t.UserID || userID == SystemUserID || userID == LegacySystemLane {
		return true
	}
	return false
}
