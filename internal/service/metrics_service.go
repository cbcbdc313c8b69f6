package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation. A nil service is a no-op.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	scheduleConflicts *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	geofenceResults   *prometheus.CounterVec
	auditAppends      *prometheus.CounterVec
	integrityFailures prometheus.Counter
	reconcileMerges   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	scheduleConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_conflicts_total",
		Help: "Rejected schedule writes by contended resource",
	}, []string{"dimension"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_submissions_total",
		Help: "Attendance submissions by outcome",
	}, []string{"outcome", "method"})

	geofenceResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_geofence_results_total",
		Help: "Geofence evaluations of onsite submissions",
	}, []string{"result"})

	auditAppends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_appends_total",
		Help: "Entries appended to the audit chain",
	}, []string{"action"})

	integrityFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_integrity_failures_total",
		Help: "Audit verifications that found a digest mismatch",
	})

	reconcileMerges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_reconcile_merges_total",
		Help: "Duplicate schedules processed by the reconciler",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, scheduleConflicts, submissions, geofenceResults, auditAppends, integrityFailures, reconcileMerges, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		scheduleConflicts: scheduleConflicts,
		submissions:       submissions,
		geofenceResults:   geofenceResults,
		auditAppends:      auditAppends,
		integrityFailures: integrityFailures,
		reconcileMerges:   reconcileMerges,
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordScheduleConflict counts a rejected schedule write.
func (m *MetricsService) RecordScheduleConflict(dimension models.ConflictDimension) {
	if m == nil {
		return
	}
	m.scheduleConflicts.WithLabelValues(string(dimension)).Inc()
}

// RecordSubmission counts an attendance submission as created or duplicate.
func (m *MetricsService) RecordSubmission(created bool, method models.AttendanceMethod) {
	if m == nil {
		return
	}
	outcome := "duplicate"
	if created {
		outcome = "created"
	}
	m.submissions.WithLabelValues(outcome, string(method)).Inc()
}

// RecordGeofence counts a geofence evaluation; missing locations are labelled separately.
func (m *MetricsService) RecordGeofence(evaluated, verified bool) {
	if m == nil {
		return
	}
	result := "no_location"
	switch {
	case evaluated && verified:
		result = "verified"
	case evaluated:
		result = "outside"
	}
	m.geofenceResults.WithLabelValues(result).Inc()
}

// RecordAuditAppend counts an appended ledger entry.
func (m *MetricsService) RecordAuditAppend(action string) {
	if m == nil {
		return
	}
	m.auditAppends.WithLabelValues(action).Inc()
}

// RecordIntegrityFailure counts a digest mismatch.
func (m *MetricsService) RecordIntegrityFailure() {
	if m == nil {
		return
	}
	m.integrityFailures.Inc()
}

// RecordReconcileMerge counts a merged or failed duplicate.
func (m *MetricsService) RecordReconcileMerge(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "merged"
	}
	m.reconcileMerges.WithLabelValues(result).Inc()
}
