package invitations

import (
	"time"
)

// Status represents an invitation's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can never transition again.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// DefaultValidityDays is the invitation validity window when the caller
// does not override it.
const DefaultValidityDays = 7

// Invitation represents a single-use, time-boxed onboarding token.
type Invitation struct {
	ID              string    `json:"id"`
	Token           string    `json:"-"`
	TenantID        string    `json:"tenant_id"`
	InvitedEmail    string    `json:"invited_email"`
	InvitedUsername string    `json:"invited_username"`
	ProposedRoleIDs []string  `json:"proposed_role_ids"`
	InvitedBy       string    `json:"invited_by"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ProjectedStatus returns the status as seen by readers: a pending
// invitation past its expiry reads as expired even before the cleanup
// sweep persists the transition.
func (i *Invitation) ProjectedStatus(now time.Time) Status {
	if i.Status == StatusPending && now.After(i.ExpiresAt) {
		return StatusExpired
	}
	return i.Status
}

// InvitationRef is the projection returned to transport layers. It
// carries the projected status, never the raw persisted one.
type InvitationRef struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	InvitedEmail string    `json:"invited_email"`
	Status       Status    `json:"status"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Ref returns the projection of i at the given instant.
func (i *Invitation) Ref(now time.Time) InvitationRef {
	return InvitationRef{
		ID:           i.ID,
		TenantID:     i.TenantID,
		InvitedEmail: i.InvitedEmail,
		Status:       i.ProjectedStatus(now),
		ExpiresAt:    i.ExpiresAt,
	}
}

// TokenType discriminates single-use verification tokens.
type TokenType string

const (
	TokenTypeEmailVerification TokenType = "email_verification"
	TokenTypeInvitation        TokenType = "invitation"
)

// VerificationToken is a single-use token consumed exactly once:
// used_at transitions from null to non-null atomically with the action
// it authorizes.
type VerificationToken struct {
	Token     string     `json:"-"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	TokenType TokenType  `json:"token_type"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
