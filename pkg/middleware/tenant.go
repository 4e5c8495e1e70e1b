package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/contextkeys"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
)

// APIKeyHeader carries a tenant API key for machine-to-machine requests.
const APIKeyHeader = "X-API-Key"

// TenantContext resolves the requesting tenant and stores it in the
// request context. Resolution order: X-API-Key header, then the request
// Host. Requests that resolve to no tenant are rejected.
func TenantContext(directory *tenants.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, err := resolveTenant(r, directory)
			if err != nil {
				httputil.WriteDomainError(w, err)
				return
			}
			ctx := contextkeys.WithTenant(r.Context(), tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveTenant(r *http.Request, directory *tenants.Directory) (*tenants.Tenant, error) {
	if apiKey := r.Header.Get(APIKeyHeader); apiKey != "" {
		return directory.ResolveByAPIKey(r.Context(), apiKey)
	}
	return directory.ResolveByDomain(r.Context(), hostWithoutPort(r.Host))
}

func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// GetTenant extracts the resolved tenant from the request.
func GetTenant(r *http.Request) *tenants.Tenant {
	tenant, _ := contextkeys.GetTenant(r.Context())
	return tenant
}
