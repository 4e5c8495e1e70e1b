package api

import (
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
)

// buildClaims returns the enriched token claims for the calling
// principal.
func (s *Server) buildClaims(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	tokenClaims, err := s.deps.Claims.BuildTokenClaims(r.Context(), principal, s.clock())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, tokenClaims)
}
