package http

import (
	"net/http"

	"github.com/hostwarden/hostwarden/internal/middleware"
)

// HandleWhoAmI returns the authenticated principal and its accessible
// tenant set.
func (h *Handlers) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	accessible, err := h.Gate.AccessibleTenants(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err, "access evaluation failed")
		return
	}
	tenants := make([]string, 0, len(accessible))
	for id := range accessible {
		tenants = append(tenants, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal":          actor,
		"accessible_tenants": tenants,
	})
}

type switchRequest struct {
	TenantID string `json:"tenant_id"`
}

// HandleSwitchIdentity validates a cross-tenant impersonation request and
// returns the impersonated principal view. The check is directional: only
// descendants of the actor's tenant qualify, never the actor's own tenant.
func (h *Handlers) HandleSwitchIdentity(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[switchRequest](w, r)
	if !ok {
		return
	}
	impersonated, err := h.Auth.SwitchIdentity(r.Context(), actor, req.TenantID)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, impersonated)
}
