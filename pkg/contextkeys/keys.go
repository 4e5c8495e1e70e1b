// Package contextkeys provides centralized context key definitions
//
// All context keys shared across packages are defined here. This
// prevents typos, documents dependencies, and makes key usage
// discoverable.
package contextkeys

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains identity.Principal
	// Set by: middleware.Principal (pkg/middleware/principal.go)
	// Required by: All authenticated API endpoints
	PrincipalKey Key = "principal"

	// TenantKey contains *tenants.Tenant
	// Set by: middleware.TenantContext (pkg/middleware/tenant.go)
	// Required by: Tenant-scoped endpoints
	TenantKey Key = "tenant"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal retrieves the authenticated principal from the context
func GetPrincipal(ctx context.Context) (identity.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(identity.Principal)
	return p, ok
}

// WithTenant adds the resolved tenant to the context
func WithTenant(ctx context.Context, tenant *tenants.Tenant) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenant retrieves the resolved tenant from the context
func GetTenant(ctx context.Context) (*tenants.Tenant, bool) {
	tenant, ok := ctx.Value(TenantKey).(*tenants.Tenant)
	return tenant, ok
}
