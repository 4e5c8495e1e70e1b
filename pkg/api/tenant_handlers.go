package api

import (
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/audit"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
)

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req tenants.CreateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	tenant, err := s.deps.Tenants.Create(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   tenant.ID,
		Action:     audit.ActionTenantCreate,
		TargetType: "tenant",
		TargetID:   tenant.ID,
		Detail:     map[string]any{"name": tenant.Name},
	})
	httputil.WriteCreated(w, tenant)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	tenant, err := s.deps.Tenants.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

func (s *Server) deactivateTenant(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireTenantAdmin(w, r); !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Directory.Deactivate(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	s.recordAudit(r, audit.Entry{
		TenantID:   id,
		Action:     audit.ActionTenantDeactivate,
		TargetType: "tenant",
		TargetID:   id,
	})
	httputil.WriteNoContent(w)
}

// resolveTenant looks up a tenant by login domain or OAuth client ID.
// API-key resolution is deliberately not exposed here: keys arrive only
// via the X-API-Key header on tenant-scoped routes.
func (s *Server) resolveTenant(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	clientID := r.URL.Query().Get("client_id")

	var (
		tenant *tenants.Tenant
		err    error
	)
	switch {
	case domain != "":
		tenant, err = s.deps.Directory.ResolveByDomain(r.Context(), domain)
	case clientID != "":
		tenant, err = s.deps.Directory.ResolveByClientID(r.Context(), clientID)
	default:
		httputil.WriteBadRequest(w, "domain or client_id query parameter is required")
		return
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant.Ref())
}

func (s *Server) listTenantUsers(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r)
	list, err := s.deps.Users.ListByTenant(r.Context(), tenant.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"users": list})
}

func (s *Server) listTenantAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireTenantAdmin(w, r); !ok {
		return
	}
	tenant := middleware.GetTenant(r)
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	entries, err := s.deps.Audit.ListByTenant(r.Context(), tenant.ID, limit)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"entries": entries})
}
