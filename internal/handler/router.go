package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// Handlers groups the route handlers mounted under the API prefix.
type Handlers struct {
	Schedules   *ScheduleHandler
	Attendance  *AttendanceHandler
	Supervision *SupervisionHandler
	Audit       *AuditHandler
	Maintenance *MaintenanceHandler
}

// RegisterRoutes mounts the authenticated API. submitLimit guards attendance submission.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, auth gin.HandlerFunc, submitLimit gin.HandlerFunc) {
	api.Use(auth)

	schedules := api.Group("/schedules")
	schedules.GET("", middleware.RequireCapability(models.CanViewSchedule), h.Schedules.List)
	schedules.GET("/:id", middleware.RequireCapability(models.CanViewSchedule), h.Schedules.Get)
	schedules.POST("", middleware.RequireCapability(models.CanCreateSchedule), h.Schedules.Create)
	schedules.PATCH("/:id/location", middleware.RequireCapability(models.CanUpdateSchedule), h.Schedules.UpdateLocation)
	schedules.GET("/:id/attendance", middleware.RequireCapability(models.CanViewAttendance), h.Attendance.ListBySchedule)
	schedules.GET("/:id/verification", middleware.RequireCapability(models.CanViewAttendance), h.Supervision.SessionVerification)

	attendance := api.Group("/attendance")
	attendance.POST("", middleware.RequireCapability(models.CanRecordAttendance), submitLimit, h.Attendance.Submit)
	attendance.GET("/:id", middleware.RequireCapability(models.CanViewAttendance), h.Attendance.Get)
	attendance.POST("/:id/verify", middleware.RequireCapability(models.CanSuperviseSession), h.Attendance.Verify)

	api.POST("/supervision/checks", middleware.RequireCapability(models.CanSuperviseSession), h.Supervision.RecordCheck)

	audit := api.Group("/audit")
	audit.GET("/logs", middleware.RequireCapability(models.CanExportAudit, models.CanVerifyAudit), h.Audit.List)
	audit.GET("/logs/export", middleware.RequireCapability(models.CanExportAudit), h.Audit.Export)
	audit.POST("/logs/:id/verify", middleware.RequireCapability(models.CanVerifyAudit), h.Audit.Verify)
	audit.GET("/chain/verify", middleware.RequireCapability(models.CanVerifyAudit), h.Audit.VerifyChain)
	audit.POST("/logs/cleanup", middleware.RequireCapability(models.CanCleanupAudit), h.Audit.Cleanup)

	api.POST("/maintenance/schedules/reconcile", middleware.RequireCapability(models.CanRunMaintenance), h.Maintenance.ReconcileSchedules)
}
