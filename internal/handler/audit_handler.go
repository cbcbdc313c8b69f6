package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, caller models.Caller, filter models.AuditFilter) ([]models.AuditLogEntry, *models.Pagination, error)
	Export(ctx context.Context, caller models.Caller, filter models.AuditFilter, format string) (*models.AuditExport, error)
	VerifyEntry(ctx context.Context, caller models.Caller, entryID string) (*models.AuditVerification, error)
	VerifyChain(ctx context.Context, caller models.Caller, fromSequence int64, limit int) (*models.AuditChainVerification, error)
	Cleanup(ctx context.Context, caller models.Caller, retentionDays int) (*models.AuditCleanupResult, error)
}

// AuditHandler exposes the audit ledger.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc auditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary List audit log entries
// @Tags Audit
// @Produce json
// @Param userId query string false "Actor"
// @Param action query string false "Action"
// @Param targetType query string false "Target type"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param minRisk query int false "Minimum risk score"
// @Param maxRisk query int false "Maximum risk score"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit/logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.service.List(c.Request.Context(), caller, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Export godoc
// @Summary Export audit log
// @Tags Audit
// @Produce text/csv
// @Produce application/x-ndjson
// @Produce application/pdf
// @Param format query string false "csv, ndjson or pdf"
// @Success 200 {file} file
// @Router /audit/logs/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	export, err := h.service.Export(c.Request.Context(), caller, filter, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("X-Export-Count", strconv.Itoa(export.Count))
	response.Attachment(c, export.Filename, export.ContentType, export.Payload)
}

// Verify godoc
// @Summary Verify one audit entry against its predecessor
// @Tags Audit
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /audit/logs/{id}/verify [post]
func (h *AuditHandler) Verify(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	result, err := h.service.VerifyEntry(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// VerifyChain godoc
// @Summary Walk the retained audit chain
// @Description With strict=true a broken chain is answered with 409 AUDIT_INTEGRITY_VIOLATION.
// @Tags Audit
// @Produce json
// @Param fromSequence query int false "First sequence to check"
// @Param limit query int false "Entries to check"
// @Param strict query bool false "Fail the request on a mismatch"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /audit/chain/verify [get]
func (h *AuditHandler) VerifyChain(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var from int64
	if raw := c.Query("fromSequence"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "fromSequence must be an integer"))
			return
		}
		from = v
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	result, err := h.service.VerifyChain(c.Request.Context(), caller, from, n)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Valid && c.Query("strict") == "true" {
		response.Error(c, appErrors.WithDetails(appErrors.Clone(appErrors.ErrIntegrityViolation, result.Reason), result))
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Cleanup godoc
// @Summary Delete audit entries past retention
// @Tags Audit
// @Accept json
// @Produce json
// @Param payload body dto.AuditCleanupRequest true "Retention"
// @Success 200 {object} response.Envelope
// @Router /audit/logs/cleanup [post]
func (h *AuditHandler) Cleanup(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var req dto.AuditCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	result, err := h.service.Cleanup(c.Request.Context(), caller, req.RetentionDays)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func auditFilterFromQuery(c *gin.Context) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		UserID:     c.Query("userId"),
		Action:     c.Query("action"),
		TargetType: c.Query("targetType"),
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		return filter, err
	}
	if filter.MinRisk, err = queryInt(c, "minRisk"); err != nil {
		return filter, err
	}
	if filter.MaxRisk, err = queryInt(c, "maxRisk"); err != nil {
		return filter, err
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = limit
	}
	return filter, nil
}
