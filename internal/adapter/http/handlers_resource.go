package http

import (
	"net/http"

	"github.com/hostwarden/hostwarden/internal/domain/resource"
	"github.com/hostwarden/hostwarden/internal/middleware"
	"github.com/hostwarden/hostwarden/internal/service/kinds"
)

func resourceRef(r *http.Request) resource.Ref {
	return resource.Ref{Kind: resource.Kind(urlParam(r, "kind")), ID: urlParam(r, "id")}
}

// ListResources returns a tenant's resources of one kind.
func (h *Handlers) ListResources(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	kind := resource.Kind(urlParam(r, "kind"))
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		tenantID = actor.TenantID
	}
	res, err := h.Resources.List(r.Context(), actor, kind, tenantID)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetResource returns one resource.
func (h *Handlers) GetResource(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	res, err := h.Resources.Get(r.Context(), actor, resourceRef(r))
	if err != nil {
		writeDomainError(w, err, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateResource provisions a hosted resource.
func (h *Handlers) CreateResource(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[kinds.CreateRequest](w, r)
	if !ok {
		return
	}
	req.Kind = resource.Kind(urlParam(r, "kind"))
	res, err := h.Resources.Create(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// SuspendResource suspends a resource once its dependents are suspended.
func (h *Handlers) SuspendResource(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[suspendRequest](w, r)
	if !ok {
		return
	}
	rec, err := h.Resources.Suspend(r.Context(), actor, resourceRef(r), req.Reason)
	if err != nil {
		writeDomainError(w, err, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ResumeResource lifts a resource suspension.
func (h *Handlers) ResumeResource(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	if err := h.Resources.Resume(r.Context(), actor, resourceRef(r)); err != nil {
		writeDomainError(w, err, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// DeleteResource removes an unreferenced resource, cascading to orphaned
// support records.
func (h *Handlers) DeleteResource(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	if err := h.Resources.Remove(r.Context(), actor, resourceRef(r)); err != nil {
		writeDomainError(w, err, "resource not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
