package rbac

import (
	"time"
)

// Role represents a named, reusable bundle of permission strings in the
// global catalog. Tenant admins pick from the catalog when inviting
// users; role definitions are edited out-of-band.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleAssignment represents a time-bound user-to-role grant. A nil
// ExpiresAt means the grant is permanent.
type RoleAssignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy string     `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// Expired reports whether the assignment's validity window has passed.
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// BulkOutcome is the per-row result of a bulk assignment operation.
// Each row succeeds or fails independently of its batch.
type BulkOutcome struct {
	UserID       string `json:"user_id"`
	AssignmentID string `json:"assignment_id,omitempty"`
	Err          error  `json:"-"`
}

// DefaultRoleName is granted when an invitation proposes no roles.
const DefaultRoleName = "member"

// BuiltInRoles returns the catalog entries seeded on first start.
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:        "tenant_admin",
			Description: "Full administrative access within the owning tenant",
			Permissions: []string{
				"tenant:read", "tenant:manage",
				"users:read", "users:invite", "users:manage",
				"roles:read", "roles:assign",
			},
			IsActive: true,
		},
		{
			Name:        DefaultRoleName,
			Description: "Standard member access",
			Permissions: []string{"tenant:read", "users:read"},
			IsActive:    true,
		},
		{
			Name:        "auditor",
			Description: "Read-only access to audit and user data",
			Permissions: []string{"tenant:read", "users:read", "audit:read"},
			IsActive:    true,
		},
	}
}
