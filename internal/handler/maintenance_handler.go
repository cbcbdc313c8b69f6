package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type reconcileQueue interface {
	Enqueue(ctx context.Context, caller models.Caller) (string, error)
}

// MaintenanceHandler triggers out-of-band maintenance passes.
type MaintenanceHandler struct {
	reconciler reconcileQueue
}

// NewMaintenanceHandler constructs the handler.
func NewMaintenanceHandler(reconciler reconcileQueue) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler}
}

// ReconcileSchedules godoc
// @Summary Queue a duplicate-schedule reconciliation pass
// @Tags Maintenance
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /maintenance/schedules/reconcile [post]
func (h *MaintenanceHandler) ReconcileSchedules(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	jobID, err := h.reconciler.Enqueue(c.Request.Context(), caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"jobId": jobID, "status": "queued"})
}
