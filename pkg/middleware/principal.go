package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/contextkeys"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/identity"
)

// PrincipalResolver verifies a bearer credential and returns the
// principal it authenticates. Implemented by auth.PrincipalVerifier.
type PrincipalResolver interface {
	Principal(ctx context.Context, rawToken string) (identity.Principal, error)
}

// Principal authenticates the request's bearer token and stores the
// resulting principal in the request context. When optional is true,
// requests without an Authorization header pass through anonymously.
func Principal(resolver PrincipalResolver, optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			principal, err := resolver.Principal(r.Context(), parts[1])
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := contextkeys.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the request.
func GetPrincipal(r *http.Request) (identity.Principal, bool) {
	return contextkeys.GetPrincipal(r.Context())
}

// RequireHumanUser rejects requests whose principal is not a human user
// belonging to the tenant resolved for the request.
func RequireHumanUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r)
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		human, ok := principal.(identity.HumanUser)
		if !ok {
			httputil.WriteForbidden(w, "endpoint requires a user credential")
			return
		}
		if tenant := GetTenant(r); tenant != nil && tenant.ID != human.TenantID {
			httputil.WriteForbidden(w, "credential belongs to another tenant")
			return
		}
		next.ServeHTTP(w, r)
	})
}
