package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.HandleHealth)
	r.Get("/health/ready", h.HandleReady)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Identity
		r.Get("/auth/me", h.HandleWhoAmI)
		r.Post("/auth/switch", h.HandleSwitchIdentity)

		// Tenants
		r.Get("/tenants", h.ListTenants)
		r.Post("/tenants", h.CreateTenant)
		r.Get("/tenants/{id}", h.GetTenant)
		r.Delete("/tenants/{id}", h.DeleteTenant)
		r.Post("/tenants/{id}/suspend", h.SuspendTenant)
		r.Post("/tenants/{id}/resume", h.ResumeTenant)
		r.Post("/tenants/{id}/cancel", h.CancelTenant)

		// Principals (nested under tenants for listing)
		r.Get("/tenants/{id}/principals", h.ListPrincipals)
		r.Post("/principals", h.CreatePrincipal)
		r.Get("/principals/{id}", h.GetPrincipal)
		r.Delete("/principals/{id}", h.DeletePrincipal)
		r.Post("/principals/{id}/suspend", h.SuspendPrincipal)
		r.Post("/principals/{id}/resume", h.ResumePrincipal)

		// Hosts and grants
		r.Get("/hosts", h.ListHosts)
		r.Post("/hosts", h.CreateHost)
		r.Post("/hosts/{id}/grants", h.GrantHost)
		r.Delete("/hosts/{id}/grants", h.RevokeHost)
		r.Post("/hosts/{id}/ping", h.PingHost)

		// Hosted resources
		r.Get("/resources/{kind}", h.ListResources)
		r.Post("/resources/{kind}", h.CreateResource)
		r.Get("/resources/{kind}/{id}", h.GetResource)
		r.Delete("/resources/{kind}/{id}", h.DeleteResource)
		r.Post("/resources/{kind}/{id}/suspend", h.SuspendResource)
		r.Post("/resources/{kind}/{id}/resume", h.ResumeResource)
	})
}
