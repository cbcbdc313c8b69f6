package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type attendanceService interface {
	SubmitAttendance(ctx context.Context, caller models.Caller, req dto.SubmitAttendanceRequest) (*models.SubmissionResult, error)
	GetAttendanceRecord(ctx context.Context, caller models.Caller, id string) (*models.AttendanceRecord, error)
	ListAttendance(ctx context.Context, caller models.Caller, scheduleID string, from, to *time.Time) ([]models.AttendanceRecord, error)
}

type attendanceVerifier interface {
	VerifyAttendanceRecord(ctx context.Context, caller models.Caller, recordID string, req dto.VerifyAttendanceRequest) (*models.AttendanceRecord, error)
}

// AttendanceHandler exposes attendance submission and lookup.
type AttendanceHandler struct {
	service  attendanceService
	verifier attendanceVerifier
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(svc attendanceService, verifier attendanceVerifier) *AttendanceHandler {
	return &AttendanceHandler{service: svc, verifier: verifier}
}

// Submit godoc
// @Summary Submit attendance
// @Description Idempotent: a replay within the dedup window returns 200 with created=false and the original record id.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.SubmitAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var req dto.SubmitAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	result, err := h.service.SubmitAttendance(c.Request.Context(), caller, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.JSON(c, status, result, nil)
}

// Get godoc
// @Summary Get attendance record
// @Tags Attendance
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/{id} [get]
func (h *AttendanceHandler) Get(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	record, err := h.service.GetAttendanceRecord(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// ListBySchedule godoc
// @Summary List a schedule's attendance records
// @Tags Attendance
// @Produce json
// @Param id path string true "Schedule ID"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/attendance [get]
func (h *AttendanceHandler) ListBySchedule(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	from, err := queryTime(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.service.ListAttendance(c.Request.Context(), caller, c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Verify godoc
// @Summary Record a supervisor verdict on an attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body dto.VerifyAttendanceRequest true "Verdict"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/verify [post]
func (h *AttendanceHandler) Verify(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var req dto.VerifyAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	record, err := h.verifier.VerifyAttendanceRecord(c.Request.Context(), caller, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
