package http

import (
	"net/http"

	"github.com/hostwarden/hostwarden/internal/domain/host"
	"github.com/hostwarden/hostwarden/internal/middleware"
)

// ListHosts returns the hosts visible to the operator.
func (h *Handlers) ListHosts(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	hosts, err := h.Hosts.List(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err, "hosts unavailable")
		return
	}
	writeJSON(w, http.StatusOK, hosts)
}

// CreateHost registers a host.
func (h *Handlers) CreateHost(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[host.CreateRequest](w, r)
	if !ok {
		return
	}
	created, err := h.Hosts.Create(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, err, "host not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type grantRequest struct {
	TenantID string `json:"tenant_id"`
}

// GrantHost binds a tenant to a host.
func (h *Handlers) GrantHost(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[grantRequest](w, r)
	if !ok {
		return
	}
	if err := h.Hosts.Grant(r.Context(), actor, req.TenantID, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "host or tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

// RevokeHost removes a tenant-host grant.
func (h *Handlers) RevokeHost(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	req, ok := readJSON[grantRequest](w, r)
	if !ok {
		return
	}
	if err := h.Hosts.Revoke(r.Context(), actor, req.TenantID, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "grant not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PingHost probes a host's node agent. An unreachable host reports
// ok=false with 200: offline is an observation, not a request failure.
func (h *Handlers) PingHost(w http.ResponseWriter, r *http.Request) {
	actor := middleware.PrincipalFromContext(r.Context())
	res, err := h.Hosts.Ping(r.Context(), actor, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "host not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
