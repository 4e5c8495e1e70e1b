package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/contextkeys"
	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
)

type stubResolver struct {
	principal identity.Principal
	err       error
}

func (s *stubResolver) Principal(_ context.Context, _ string) (identity.Principal, error) {
	return s.principal, s.err
}

func TestPrincipalAttachesToContext(t *testing.T) {
	resolver := &stubResolver{principal: identity.HumanUser{UserID: "u-1", TenantID: "t-1"}}

	var seen identity.Principal
	handler := Principal(resolver, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer token-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.IsType(t, identity.HumanUser{}, seen)
	assert.Equal(t, "u-1", seen.(identity.HumanUser).UserID)
}

func TestPrincipalRejectsMissingHeader(t *testing.T) {
	handler := Principal(&stubResolver{}, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrincipalOptionalAllowsAnonymous(t *testing.T) {
	var ran bool
	handler := Principal(&stubResolver{}, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		_, ok := GetPrincipal(r)
		assert.False(t, ok)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, ran)
}

func TestPrincipalRejectsMalformedHeader(t *testing.T) {
	handler := Principal(&stubResolver{}, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireHumanUser(t *testing.T) {
	tenant := &tenants.Tenant{ID: "t-1", Name: "Acme"}

	tests := []struct {
		name      string
		principal identity.Principal
		status    int
	}{
		{"matching tenant", identity.HumanUser{UserID: "u-1", TenantID: "t-1"}, http.StatusNoContent},
		{"other tenant", identity.HumanUser{UserID: "u-1", TenantID: "t-2"}, http.StatusForbidden},
		{"machine client", identity.MachineClient{ClientID: "gh_c1"}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireHumanUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			ctx := contextkeys.WithTenant(r.Context(), tenant)
			if tt.principal != nil {
				ctx = contextkeys.WithPrincipal(ctx, tt.principal)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r.WithContext(ctx))

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
