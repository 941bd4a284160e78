package http

import (
	"net/http"

	"github.com/hostwarden/hostwarden/internal/adapter/ws"
	"github.com/hostwarden/hostwarden/internal/service"
	"github.com/hostwarden/hostwarden/internal/service/kinds"
)

// Handlers bundles the service dependencies of the HTTP API.
type Handlers struct {
	Auth       *service.AuthService
	Gate       *service.Gate
	Tenants    *service.TenantService
	Principals *service.PrincipalService
	Hosts      *service.HostService
	Resources  *kinds.Registry
	Hub        *ws.Hub

	Ready func() error // readiness probe, nil = always ready
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports readiness, checking downstream dependencies.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
