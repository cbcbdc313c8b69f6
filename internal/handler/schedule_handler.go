package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type scheduleService interface {
	CreateSchedule(ctx context.Context, caller models.Caller, req dto.CreateScheduleRequest) (*models.CourseSchedule, error)
	UpdateScheduleLocation(ctx context.Context, caller models.Caller, id string, req dto.UpdateScheduleLocationRequest) (*models.CourseSchedule, error)
	GetSchedule(ctx context.Context, caller models.Caller, id string) (*models.CourseSchedule, error)
	ListSchedules(ctx context.Context, caller models.Caller, filter models.ScheduleFilter) ([]models.CourseSchedule, *models.Pagination, error)
}

// ScheduleHandler manages schedule endpoints.
type ScheduleHandler struct {
	service scheduleService
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc scheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// List godoc
// @Summary List schedules
// @Tags Schedules
// @Produce json
// @Param lecturerId query string false "Filter by lecturer"
// @Param classGroupId query string false "Filter by class group"
// @Param classroomId query string false "Filter by classroom"
// @Param dayOfWeek query int false "Filter by day (0=Sunday)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	filter := models.ScheduleFilter{
		LecturerID:   c.Query("lecturerId"),
		ClassGroupID: c.Query("classGroupId"),
		ClassroomID:  c.Query("classroomId"),
	}
	day, err := queryInt(c, "dayOfWeek")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.DayOfWeek = day
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}

	schedules, pagination, err := h.service.ListSchedules(c.Request.Context(), caller, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedules, pagination)
}

// Get godoc
// @Summary Get schedule
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	schedule, err := h.service.GetSchedule(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// Create godoc
// @Summary Create schedule
// @Description Rejects the slot with 409 when the lecturer, class group or classroom is already booked.
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	schedule, err := h.service.CreateSchedule(c.Request.Context(), caller, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, schedule)
}

// UpdateLocation godoc
// @Summary Change a schedule's classroom or meeting link
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.UpdateScheduleLocationRequest true "Location payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules/{id}/location [patch]
func (h *ScheduleHandler) UpdateLocation(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateScheduleLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	schedule, err := h.service.UpdateScheduleLocation(c.Request.Context(), caller, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}
