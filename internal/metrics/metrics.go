// Package metrics exposes Prometheus instruments for HTTP traffic,
// authorization decisions and resource operations.
//
//	metrics.RecordAuthzDecision("Patient", "Read", "Patient", false)
//	metrics.RecordHTTPRequest("GET", "/fhir/Patient/{id}", 200, 3*time.Millisecond)
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirapi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fhirapi_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// AuthzDecisionsTotal counts rule set decisions. Denials are what
	// alerting watches.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirapi_authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"resource_type", "permission", "roles", "decision"},
	)

	ResourceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirapi_resource_operations_total",
			Help: "Total number of resource operations by outcome",
		},
		[]string{"resource_type", "operation", "outcome"},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhirapi_login_attempts_total",
			Help: "Total number of password login attempts",
		},
		[]string{"result"},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthzDecision records an allow or deny for a permission check.
func RecordAuthzDecision(resourceType, permission, roles string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	AuthzDecisionsTotal.WithLabelValues(resourceType, permission, roles, decision).Inc()
}

// RecordResourceOperation records the outcome of a service operation. The
// outcome is "ok" or the error code of the failure.
func RecordResourceOperation(resourceType, operation, outcome string) {
	ResourceOperationsTotal.WithLabelValues(resourceType, operation, outcome).Inc()
}

// RecordLogin records a login attempt.
func RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	LoginAttemptsTotal.WithLabelValues(result).Inc()
}
