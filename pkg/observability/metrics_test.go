package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordTenantResolution("api_key", "hit")
	m.RecordTenantResolution("api_key", "hit")
	m.RecordTenantResolution("domain", "miss")
	m.RecordInvitation("accept", "success")
	m.RecordInvitationSweep(3)
	m.ObserveClaimsBuild(2 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.tenantResolutionsTotal.WithLabelValues("api_key", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tenantResolutionsTotal.WithLabelValues("domain", "miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.invitationsTotal.WithLabelValues("accept", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.invitationSweepsTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.invitationsSwept))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics()

	handler := m.HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/invitations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.httpRequestsTotal.WithLabelValues("POST", "/v1/invitations", "201")))
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	m.RecordInvitation("create", "success")

	mux := http.NewServeMux()
	m.RegisterMetricsEndpoint(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gatehouse_invitations_total")
}
