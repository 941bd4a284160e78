package http

import (
	"net/http"

	"github.com/hostwarden/hostwarden/internal/domain/tenant"
	"github.com/hostwarden/hostwarden/internal/middleware"
)

// ListTenants returns the caller's accessible tenant set.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	tenants, err := h.Tenants.List(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err, "tenants unavailable")
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

// GetTenant returns one tenant.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	t, err := h.Tenants.Get(r.Context(), actor, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateTenant creates a child tenant.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[tenant.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Tenants.Create(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, err, "parent tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

// SuspendTenant suspends a tenant subtree leaf. Children must already be
// suspended.
func (h *Handlers) SuspendTenant(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[suspendRequest](w, r)
	if !ok {
		return
	}
	if err := h.Tenants.Suspend(r.Context(), actor, urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

// ResumeTenant lifts a tenant suspension.
func (h *Handlers) ResumeTenant(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	if err := h.Tenants.Resume(r.Context(), actor, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// CancelTenant marks a tenant terminally canceled.
func (h *Handlers) CancelTenant(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	if err := h.Tenants.Cancel(r.Context(), actor, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// DeleteTenant removes a tenant with no surviving children or resources.
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	if err := h.Tenants.Remove(r.Context(), actor, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
