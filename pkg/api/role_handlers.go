package api

import (
	"net/http"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/audit"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.deps.Roles.Store().ListRoles(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"roles": roles})
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireTenantAdmin(w, r); !ok {
		return
	}
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role := &rbac.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := s.deps.Roles.Store().CreateRole(r.Context(), role); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

func (s *Server) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := s.deps.Roles.Store().ActiveRolesForUser(r.Context(), userID, s.clock())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"roles": roles})
}

func (s *Server) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	perms, err := s.deps.Roles.Store().EffectivePermissions(r.Context(), userID, s.clock())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"permissions": perms})
}

// checkUserRole answers whether a user currently holds a named role,
// for authorization checks by other services.
func (s *Server) checkUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	roleName, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	held, err := s.deps.Roles.Store().HasRole(r.Context(), userID, roleName, s.clock())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"user_id": userID, "role": roleName, "has_role": held})
}

type assignRequest struct {
	UserID    string     `json:"user_id"`
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) createAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireTenantAdmin(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") ||
		!httputil.RequireNonEmpty(w, req.RoleID, "role_id") {
		return
	}

	assignment, err := s.deps.Roles.Assign(r.Context(), req.UserID, req.RoleID, actor.ID, req.ExpiresAt)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   actor.TenantID,
		Action:     audit.ActionRoleAssign,
		TargetType: "role_assignment",
		TargetID:   assignment.ID,
		Detail:     map[string]any{"user_id": req.UserID, "role_id": req.RoleID},
	})
	httputil.WriteCreated(w, assignment)
}

type bulkAssignRequest struct {
	UserIDs   []string   `json:"user_ids"`
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// bulkOutcomeJSON flattens a BulkOutcome for transport; errors become
// strings.
type bulkOutcomeJSON struct {
	UserID       string `json:"user_id"`
	AssignmentID string `json:"assignment_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

func marshalOutcomes(outcomes []rbac.BulkOutcome) []bulkOutcomeJSON {
	result := make([]bulkOutcomeJSON, 0, len(outcomes))
	for _, o := range outcomes {
		row := bulkOutcomeJSON{UserID: o.UserID, AssignmentID: o.AssignmentID}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		result = append(result, row)
	}
	return result
}

func (s *Server) bulkAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireTenantAdmin(w, r)
	if !ok {
		return
	}
	var req bulkAssignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 {
		httputil.WriteBadRequest(w, "user_ids is required")
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleID, "role_id") {
		return
	}

	outcomes := s.deps.Roles.BulkAssign(r.Context(), req.UserIDs, req.RoleID, actor.ID, req.ExpiresAt)
	s.recordAudit(r, audit.Entry{
		TenantID:   actor.TenantID,
		Action:     audit.ActionRoleAssign,
		TargetType: "role_assignment",
		Detail:     map[string]any{"role_id": req.RoleID, "count": len(req.UserIDs)},
	})
	httputil.WriteSuccess(w, map[string]any{"outcomes": marshalOutcomes(outcomes)})
}

type bulkDeactivateRequest struct {
	UserIDs []string `json:"user_ids"`
	RoleID  string   `json:"role_id"`
}

func (s *Server) bulkDeactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireTenantAdmin(w, r)
	if !ok {
		return
	}
	var req bulkDeactivateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 {
		httputil.WriteBadRequest(w, "user_ids is required")
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleID, "role_id") {
		return
	}

	outcomes := s.deps.Roles.BulkDeactivate(r.Context(), req.UserIDs, req.RoleID)
	s.recordAudit(r, audit.Entry{
		TenantID:   actor.TenantID,
		Action:     audit.ActionRoleDeactivate,
		TargetType: "role_assignment",
		Detail:     map[string]any{"role_id": req.RoleID, "count": len(req.UserIDs)},
	})
	httputil.WriteSuccess(w, map[string]any{"outcomes": marshalOutcomes(outcomes)})
}

type expiryRequest struct {
	// ExpiresAt nil makes the assignment permanent; a timestamp must
	// extend the current expiry.
	ExpiresAt *time.Time `json:"expires_at"`
}

func (s *Server) updateAssignmentExpiry(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireTenantAdmin(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req expiryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var err error
	if req.ExpiresAt == nil {
		err = s.deps.Roles.MakePermanent(r.Context(), id)
	} else {
		err = s.deps.Roles.Extend(r.Context(), id, *req.ExpiresAt)
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   actor.TenantID,
		Action:     audit.ActionRoleExtend,
		TargetType: "role_assignment",
		TargetID:   id,
	})
	httputil.WriteNoContent(w)
}

func (s *Server) deactivateAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireTenantAdmin(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Roles.Deactivate(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   actor.TenantID,
		Action:     audit.ActionRoleDeactivate,
		TargetType: "role_assignment",
		TargetID:   id,
	})
	httputil.WriteNoContent(w)
}

func (s *Server) sweepAssignments(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireTenantAdmin(w, r); !ok {
		return
	}
	swept, err := s.deps.Roles.SweepExpired(r.Context(), s.clock())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"deactivated": swept})
}
