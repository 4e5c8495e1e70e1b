package tenants

import (
	"time"
)

// Tenant represents an isolated customer organization, the unit of data
// partitioning for the whole platform.
type Tenant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Domain        *string   `json:"domain,omitempty"` // login domain, unique among non-null
	OAuthClientID string    `json:"oauth_client_id"`
	APIKey        string    `json:"-"` // never exposed in responses
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateTenantRequest represents a request to register a tenant.
type CreateTenantRequest struct {
	Name   string  `json:"name"`
	Domain *string `json:"domain,omitempty"`
}

// TenantRef is the minimal projection handed to transport layers and
// the claims pipeline.
type TenantRef struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Domain *string `json:"domain,omitempty"`
}

// Ref returns the minimal projection of t.
func (t *Tenant) Ref() TenantRef {
	return TenantRef{ID: t.ID, Name: t.Name, Domain: t.Domain}
}
