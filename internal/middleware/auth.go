package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/service"
)

type principalCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// Auth returns middleware that resolves the caller's API key to a
// principal. Keys arrive either as X-API-Key or as a bearer token; the
// websocket endpoint additionally accepts ?token= because browser clients
// cannot set headers on an upgrade request.
func Auth(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				if h := r.Header.Get("Authorization"); h != "" {
					key = strings.TrimPrefix(h, "Bearer ")
					if key == h {
						http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
						return
					}
				}
			}
			if key == "" && r.URL.Path == "/ws" {
				key = r.URL.Query().Get("token")
			}
			if key == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			p, err := auth.AuthenticateKey(r.Context(), key)
			if err != nil {
				http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalCtxKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the authenticated principal, or nil on
// unauthenticated paths.
func PrincipalFromContext(ctx context.Context) *principal.Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*principal.Principal)
	return p
}

// WithPrincipal injects a principal into the context. Used by tests and by
// the identity-switch handler to re-scope the remainder of a request.
func WithPrincipal(ctx context.Context, p *principal.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}
