package api

import (
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/audit"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/invitations"
)

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req invitations.InviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.InvitedBy = actorID(r)

	ref, err := s.deps.Invitations.Invite(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   ref.TenantID,
		Action:     audit.ActionInvitationCreate,
		TargetType: "invitation",
		TargetID:   ref.ID,
		Detail:     map[string]any{"email": ref.InvitedEmail},
	})
	httputil.WriteCreated(w, ref)
}

func (s *Server) lookupInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}
	ref, err := s.deps.Invitations.Lookup(r.Context(), token)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, ref)
}

func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}
	var req invitations.AcceptRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Token = token

	ref, err := s.deps.Invitations.Accept(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   ref.TenantID,
		ActorID:    ref.ID,
		Action:     audit.ActionInvitationAccept,
		TargetType: "user",
		TargetID:   ref.ID,
	})
	httputil.WriteCreated(w, ref)
}

type resendRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
}

func (s *Server) resendInvitation(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.TenantID, "tenant_id") ||
		!httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	ref, err := s.deps.Invitations.Resend(r.Context(), req.TenantID, actorID(r), req.Email)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   ref.TenantID,
		Action:     audit.ActionInvitationResend,
		TargetType: "invitation",
		TargetID:   ref.ID,
	})
	httputil.WriteSuccess(w, ref)
}

func (s *Server) cancelInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if !httputil.RequireNonEmpty(w, tenantID, "tenant_id") {
		return
	}

	if err := s.deps.Invitations.Cancel(r.Context(), tenantID, actorID(r), token); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   tenantID,
		Action:     audit.ActionInvitationCancel,
		TargetType: "invitation",
	})
	httputil.WriteNoContent(w)
}

func (s *Server) cleanupInvitations(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireTenantAdmin(w, r); !ok {
		return
	}
	swept, err := s.deps.Invitations.CleanupExpired(r.Context(), s.clock())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"expired": swept})
}
