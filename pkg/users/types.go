package users

import (
	"time"
)

// InvitationState tracks how a user entered the system.
type InvitationState string

const (
	// InvitationStateNone marks users created outside the invitation flow.
	InvitationStateNone InvitationState = "none"
	// InvitationStateInvited marks users with a pending invitation.
	InvitationStateInvited InvitationState = "invited"
	// InvitationStateAccepted marks users created by accepting an invitation.
	InvitationStateAccepted InvitationState = "accepted"
)

// MaxFailedLoginAttempts is the number of consecutive failed logins
// after which an account is locked.
const MaxFailedLoginAttempts = 5

// User represents a user account owned by a single tenant.
type User struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenant_id"`
	Username            string          `json:"username"`
	Email               string          `json:"email"`
	PasswordHash        string          `json:"-"`
	FirstName           string          `json:"first_name,omitempty"`
	LastName            string          `json:"last_name,omitempty"`
	IsActive            bool            `json:"is_active"`
	IsTenantAdmin       bool            `json:"is_tenant_admin"`
	EmailVerified       bool            `json:"email_verified"`
	AccountLocked       bool            `json:"account_locked"`
	FailedLoginAttempts int             `json:"failed_login_attempts"`
	InvitationState     InvitationState `json:"invitation_state"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// FullName returns the display name assembled from the name parts.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}

// UserRef is the minimal projection returned to transport layers.
type UserRef struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Ref returns the minimal projection of u.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, TenantID: u.TenantID, Username: u.Username, Email: u.Email}
}
