package http

import (
	"net/http"

	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/middleware"
)

// ListPrincipals returns a tenant's principals.
func (h *Handlers) ListPrincipals(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	ps, err := h.Principals.List(r.Context(), actor, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetPrincipal returns one principal.
func (h *Handlers) GetPrincipal(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	p, err := h.Principals.Get(r.Context(), actor, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "principal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createPrincipalResponse struct {
	Principal *principal.Principal `json:"principal"`
	APIKey    string               `json:"api_key"` // returned exactly once
}

// CreatePrincipal registers a principal and returns its API key once.
func (h *Handlers) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[principal.CreateRequest](w, r)
	if !ok {
		return
	}
	p, key, err := h.Principals.Create(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, createPrincipalResponse{Principal: p, APIKey: key})
}

// SuspendPrincipal locks a principal out.
func (h *Handlers) SuspendPrincipal(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[suspendRequest](w, r)
	if !ok {
		return
	}
	if _, err := h.Principals.Suspend(r.Context(), actor, urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err, "principal not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

// ResumePrincipal lifts a principal suspension.
func (h *Handlers) ResumePrincipal(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	if err := h.Principals.Resume(r.Context(), actor, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "principal not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// DeletePrincipal removes a principal.
func (h *Handlers) DeletePrincipal(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	if err := h.Principals.Remove(r.Context(), actor, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "principal not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
