package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type supervisionService interface {
	RecordSupervisorCheck(ctx context.Context, caller models.Caller, req dto.SupervisorCheckRequest) (*models.SupervisorLog, error)
	SessionVerification(ctx context.Context, caller models.Caller, scheduleID string, date time.Time, mode string) (*models.SessionVerification, error)
}

// SupervisionHandler exposes supervisor spot checks.
type SupervisionHandler struct {
	service supervisionService
	now     func() time.Time
}

// NewSupervisionHandler constructs the handler.
func NewSupervisionHandler(svc supervisionService) *SupervisionHandler {
	return &SupervisionHandler{service: svc, now: time.Now}
}

// RecordCheck godoc
// @Summary Record a supervisor check
// @Tags Supervision
// @Accept json
// @Produce json
// @Param payload body dto.SupervisorCheckRequest true "Check payload"
// @Success 201 {object} response.Envelope
// @Router /supervision/checks [post]
func (h *SupervisionHandler) RecordCheck(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var req dto.SupervisorCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	log, err := h.service.RecordSupervisorCheck(c.Request.Context(), caller, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, log)
}

// SessionVerification godoc
// @Summary Get the day's supervisor verification of a schedule
// @Tags Supervision
// @Produce json
// @Param id path string true "Schedule ID"
// @Param date query string false "Day as YYYY-MM-DD, defaults to today"
// @Param mode query string false "first or latest"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/verification [get]
func (h *SupervisionHandler) SessionVerification(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	date := h.now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	result, err := h.service.SessionVerification(c.Request.Context(), caller, c.Param("id"), date, c.Query("mode"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
