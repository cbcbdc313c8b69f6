package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	"github.com/noah-isme/sma-attendance-api/internal/service"
)

type recordTable map[string]models.AttendanceRecord

func (r recordTable) WithSubmissionLock(ctx context.Context, scheduleID, lecturerID string, fn func(store repository.AttendanceSubmissionStore) error) error {
	return errors.New("read-only table")
}

func (r recordTable) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	record, ok := r[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

func (r recordTable) ListBySchedule(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, record := range r {
		if record.CourseScheduleID == filter.CourseScheduleID {
			out = append(out, record)
		}
	}
	return out, nil
}

type scheduleTable map[string]models.CourseSchedule

func (s scheduleTable) FindByID(ctx context.Context, id string) (*models.CourseSchedule, error) {
	schedule, ok := s[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &schedule, nil
}

type noClassrooms struct{}

func (noClassrooms) FindLocation(ctx context.Context, classroomID string) (*models.ClassroomLocation, error) {
	return nil, sql.ErrNoRows
}

// headerAuth stands in for the JWT middleware: the caller comes from test headers.
func headerAuth(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{
		UserID: c.GetHeader("X-User"),
		Role:   models.UserRole(c.GetHeader("X-Role")),
	})
	c.Next()
}

func newAttendanceRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lat, lon := -6.2, 106.8
	records := recordTable{"att-1": {
		ID:               "att-1",
		CourseScheduleID: "sched-1",
		LecturerID:       "lect-owner",
		GPSLatitude:      &lat,
		GPSLongitude:     &lon,
	}}
	schedules := scheduleTable{"sched-1": {ID: "sched-1", LecturerID: "lect-owner"}}
	svc := service.NewAttendanceService(records, schedules, noClassrooms{}, nil, nil, nil, nil, nil, service.AttendanceServiceConfig{})

	r := gin.New()
	RegisterRoutes(r.Group("/api"), Handlers{Attendance: NewAttendanceHandler(svc, nil)}, headerAuth, func(c *gin.Context) { c.Next() })
	return r
}

func getAs(r *gin.Engine, target, userID string, role models.UserRole) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-User", userID)
	req.Header.Set("X-Role", string(role))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAttendanceReadRoutesHideOtherLecturersRecords(t *testing.T) {
	r := newAttendanceRouter(t)

	w := getAs(r, "/api/attendance/att-1", "lect-other", models.RoleLecturer)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "gps_latitude")

	w = getAs(r, "/api/schedules/sched-1/attendance", "lect-other", models.RoleLecturer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = getAs(r, "/api/attendance/att-1", "lect-owner", models.RoleLecturer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lecturer_id":"lect-owner"`)

	w = getAs(r, "/api/schedules/sched-1/attendance", "sup-1", models.RoleSupervisor)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadRoutesRejectRolesWithoutViewCapability(t *testing.T) {
	r := newAttendanceRouter(t)

	w := getAs(r, "/api/attendance/att-1", "someone", models.UserRole("STUDENT"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = getAs(r, "/api/schedules/sched-1/verification", "someone", models.UserRole("STUDENT"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
