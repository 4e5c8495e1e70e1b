package audit

import (
	"time"
)

// Action represents the category of audited operation
type Action string

const (
	ActionInvitationCreate Action = "invitation.create"
	ActionInvitationResend Action = "invitation.resend"
	ActionInvitationCancel Action = "invitation.cancel"
	ActionInvitationAccept Action = "invitation.accept"

	ActionRoleAssign     Action = "role.assign"
	ActionRoleExtend     Action = "role.extend"
	ActionRoleDeactivate Action = "role.deactivate"

	ActionTenantCreate     Action = "tenant.create"
	ActionTenantDeactivate Action = "tenant.deactivate"

	ActionUserActivate   Action = "user.activate"
	ActionUserDeactivate Action = "user.deactivate"
)

// Entry represents one audited administrative operation.
type Entry struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     Action         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
