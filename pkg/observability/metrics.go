package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the identity core.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Tenant resolution metrics
	tenantResolutionsTotal *prometheus.CounterVec

	// Role assignment metrics
	roleAssignmentsTotal  *prometheus.CounterVec
	activeRoleAssignments prometheus.Gauge

	// Invitation metrics
	invitationsTotal      *prometheus.CounterVec
	invitationSweepsTotal prometheus.Counter
	invitationsSwept      prometheus.Counter

	// Claims metrics
	claimsBuildDuration prometheus.Histogram
}

// NewMetrics creates and registers the Gatehouse collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		tenantResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_tenant_resolutions_total",
				Help: "Tenant resolution attempts by lookup kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		roleAssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_role_assignments_total",
				Help: "Role assignment operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		activeRoleAssignments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_active_role_assignments",
				Help: "Number of currently active role assignments",
			},
		),
		invitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_invitations_total",
				Help: "Invitation lifecycle events by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		invitationSweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_invitation_sweeps_total",
				Help: "Number of expired-invitation sweep runs",
			},
		),
		invitationsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_invitations_swept_total",
				Help: "Number of invitations transitioned to EXPIRED by the sweeper",
			},
		),
		claimsBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_claims_build_duration_seconds",
				Help:    "Token claims build duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
			},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tenantResolutionsTotal,
		m.roleAssignmentsTotal,
		m.activeRoleAssignments,
		m.invitationsTotal,
		m.invitationSweepsTotal,
		m.invitationsSwept,
		m.claimsBuildDuration,
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTenantResolution records a tenant resolution attempt.
func (m *Metrics) RecordTenantResolution(kind, outcome string) {
	m.tenantResolutionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordRoleAssignment records a role assignment operation.
func (m *Metrics) RecordRoleAssignment(action, outcome string) {
	m.roleAssignmentsTotal.WithLabelValues(action, outcome).Inc()
}

// SetActiveRoleAssignments sets the active role assignment gauge.
func (m *Metrics) SetActiveRoleAssignments(count float64) {
	m.activeRoleAssignments.Set(count)
}

// RecordInvitation records an invitation lifecycle event.
func (m *Metrics) RecordInvitation(action, outcome string) {
	m.invitationsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordInvitationSweep records a sweep run and how many rows it expired.
func (m *Metrics) RecordInvitationSweep(swept int) {
	m.invitationSweepsTotal.Inc()
	m.invitationsSwept.Add(float64(swept))
}

// ObserveClaimsBuild records the duration of one claims build.
func (m *Metrics) ObserveClaimsBuild(d time.Duration) {
	m.claimsBuildDuration.Observe(d.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latencies.
func (m *Metrics) HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// RegisterMetricsEndpoint mounts the Prometheus scrape handler.
func (m *Metrics) RegisterMetricsEndpoint(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
