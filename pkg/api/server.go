package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gatehouse-io/gatehouse/pkg/audit"
	"github.com/gatehouse-io/gatehouse/pkg/claims"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/invitations"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
	"github.com/gatehouse-io/gatehouse/pkg/users"
)

// Dependencies carries the services the API server fronts.
type Dependencies struct {
	Tenants     *tenants.Store
	Directory   *tenants.Directory
	Users       *users.Store
	Roles       *rbac.Manager
	Invitations *invitations.Service
	Claims      *claims.Builder
	Audit       *audit.Logger

	// Resolver authenticates bearer tokens. When nil, protected routes
	// run without the authentication middleware.
	Resolver middleware.PrincipalResolver

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	deps    Dependencies
	logger  *observability.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the server clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// NewServer creates a new API server
func NewServer(deps Dependencies, opts ...Option) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Invitation acceptance routes are reachable without a credential:
	// the invitee has nothing but the token.
	s.router.HandleFunc("/api/v1/invitations/{token}", s.lookupInvitation).Methods("GET")
	s.router.HandleFunc("/api/v1/invitations/{token}/accept", s.acceptInvitation).Methods("POST")

	authed := s.router.PathPrefix("/api/v1").Subrouter()
	if s.deps.Resolver != nil {
		authed.Use(middleware.Principal(s.deps.Resolver, false))
	}

	// Tenant directory
	authed.HandleFunc("/tenants", s.createTenant).Methods("POST")
	authed.HandleFunc("/tenants/resolve", s.resolveTenant).Methods("GET")
	authed.HandleFunc("/tenants/{id}", s.getTenant).Methods("GET")
	authed.HandleFunc("/tenants/{id}", s.deactivateTenant).Methods("DELETE")

	// Invitation lifecycle
	authed.HandleFunc("/invitations", s.createInvitation).Methods("POST")
	authed.HandleFunc("/invitations/resend", s.resendInvitation).Methods("POST")
	authed.HandleFunc("/invitations/{token}", s.cancelInvitation).Methods("DELETE")

	// Roles and assignments
	authed.HandleFunc("/roles", s.listRoles).Methods("GET")
	authed.HandleFunc("/roles", s.createRole).Methods("POST")
	authed.HandleFunc("/users/{id}/roles", s.listUserRoles).Methods("GET")
	authed.HandleFunc("/users/{id}/permissions", s.listUserPermissions).Methods("GET")
	authed.HandleFunc("/users/{id}/roles/{name}", s.checkUserRole).Methods("GET")
	authed.HandleFunc("/assignments", s.createAssignment).Methods("POST")
	authed.HandleFunc("/assignments/bulk", s.bulkAssign).Methods("POST")
	authed.HandleFunc("/assignments/bulk-deactivate", s.bulkDeactivate).Methods("POST")
	authed.HandleFunc("/assignments/{id}/expiry", s.updateAssignmentExpiry).Methods("PATCH")
	authed.HandleFunc("/assignments/{id}", s.deactivateAssignment).Methods("DELETE")

	// Claims enrichment for the calling principal
	authed.HandleFunc("/claims", s.buildClaims).Methods("GET")

	// Maintenance triggers, also run on a schedule by the sweeper
	authed.HandleFunc("/ops/sweep-assignments", s.sweepAssignments).Methods("POST")
	authed.HandleFunc("/ops/cleanup-invitations", s.cleanupInvitations).Methods("POST")

	// Tenant-scoped routes resolve the tenant from the request itself
	// (API key header or host) rather than from a body field.
	if s.deps.Directory != nil {
		scoped := s.router.PathPrefix("/api/v1/tenant").Subrouter()
		if s.deps.Resolver != nil {
			scoped.Use(middleware.Principal(s.deps.Resolver, false))
		}
		scoped.Use(middleware.TenantContext(s.deps.Directory))
		scoped.HandleFunc("/users", s.listTenantUsers).Methods("GET")
		scoped.HandleFunc("/audit", s.listTenantAudit).Methods("GET")
	}
}

// Handler returns the server's routes wrapped in the standard
// middleware chain.
func (s *Server) Handler() http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(1 << 20),
	}
	if s.metrics != nil {
		chain = append(chain, s.metrics.HTTPMetricsMiddleware)
	}
	return httputil.Chain(chain...)(s.router)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// actorID returns the user ID of the authenticated human principal, or
// empty when the request is anonymous or machine-to-machine.
func actorID(r *http.Request) string {
	principal, ok := middleware.GetPrincipal(r)
	if !ok {
		return ""
	}
	if human, ok := principal.(identity.HumanUser); ok {
		return human.UserID
	}
	return ""
}

// requireTenantAdmin loads the acting user and verifies they are an
// active tenant admin. Writes the error response itself on failure.
func (s *Server) requireTenantAdmin(w http.ResponseWriter, r *http.Request) (*users.User, bool) {
	id := actorID(r)
	if id == "" {
		httputil.WriteUnauthorized(w, "a user credential is required")
		return nil, false
	}
	actor, err := s.deps.Users.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return nil, false
	}
	if !actor.IsActive || !actor.IsTenantAdmin {
		httputil.WriteForbidden(w, "tenant admin privileges required")
		return nil, false
	}
	return actor, true
}

func (s *Server) recordAudit(r *http.Request, entry audit.Entry) {
	if s.deps.Audit == nil {
		return
	}
	if entry.ActorID == "" {
		entry.ActorID = actorID(r)
	}
	s.deps.Audit.Record(r.Context(), entry)
}
