package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

func TestMetricsServiceCountsDomainEvents(t *testing.T) {
	m := NewMetricsService()
	m.RecordScheduleConflict(models.ConflictClassroom)
	m.RecordSubmission(true, models.AttendanceMethodOnsite)
	m.RecordSubmission(false, models.AttendanceMethodOnsite)
	m.RecordGeofence(true, false)
	m.RecordIntegrityFailure()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.scheduleConflicts.WithLabelValues("CLASSROOM")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.submissions.WithLabelValues("duplicate", "onsite")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.geofenceResults.WithLabelValues("outside")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.integrityFailures))
}

func TestMetricsServiceHandlerExposesRequests(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/attendance", http.StatusCreated, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `http_requests_total{method="POST",path="/api/v1/attendance",status="201"} 1`))
}

func TestNilMetricsServiceIsNoop(t *testing.T) {
	var m *MetricsService
	m.RecordSubmission(true, models.AttendanceMethodVirtual)
	m.RecordReconcileMerge(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
