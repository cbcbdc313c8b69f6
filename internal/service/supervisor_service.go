package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

type supervisorLogStore interface {
	Create(ctx context.Context, log *models.SupervisorLog) error
	ListForDay(ctx context.Context, scheduleID string, from, to time.Time) ([]models.SupervisorLog, error)
}

type attendanceVerifier interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	UpdateSupervisorVerification(ctx context.Context, params repository.SupervisorVerificationParams) error
}

// SupervisorService handles supervisor spot checks and record verification.
type SupervisorService struct {
	logs       supervisorLogStore
	attendance attendanceVerifier
	schedules  scheduleReader
	audit      auditLogger
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewSupervisorService constructs the service.
func NewSupervisorService(logs supervisorLogStore, attendance attendanceVerifier, schedules scheduleReader, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *SupervisorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupervisorService{
		logs:       logs,
		attendance: attendance,
		schedules:  schedules,
		audit:      audit,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
}

// RecordSupervisorCheck stores a spot check of a live session.
func (s *SupervisorService) RecordSupervisorCheck(ctx context.Context, caller models.Caller, req dto.SupervisorCheckRequest) (*models.SupervisorLog, error) {
	if !caller.Can(models.CanSuperviseSession) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if _, err := s.loadSchedule(ctx, req.ScheduleID); err != nil {
		return nil, err
	}

	checkIn := s.now().UTC()
	if req.CheckInTime != nil {
		checkIn = req.CheckInTime.UTC()
	}
	log := &models.SupervisorLog{
		SupervisorID:       caller.UserID,
		CourseScheduleID:   req.ScheduleID,
		Status:             models.SupervisorStatus(req.Status),
		Comments:           normaliseID(req.Comments),
		Platform:           normaliseID(req.Platform),
		ConnectionQuality:  normaliseID(req.ConnectionQuality),
		StudentCountOnline: req.StudentCountOnline,
		CheckInTime:        checkIn,
	}
	if err := s.logs.Create(ctx, log); err != nil {
		if repository.IsForeignKeyViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "schedule not found")
		}
		return nil, appErrors.Storage(err, "failed to record supervisor check")
	}

	emitAudit(ctx, s.audit, s.logger, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionSupervisorCheckRecorded,
		TargetType: models.AuditTargetSupervisorLog,
		TargetID:   log.ID,
		Metadata: map[string]interface{}{
			"scheduleId": log.CourseScheduleID,
			"status":     string(log.Status),
		},
	})
	return log, nil
}

// VerifyAttendanceRecord applies a supervisor's verdict to a record.
func (s *SupervisorService) VerifyAttendanceRecord(ctx context.Context, caller models.Caller, recordID string, req dto.VerifyAttendanceRequest) (*models.AttendanceRecord, error) {
	if !caller.Can(models.CanSuperviseSession) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	params := repository.SupervisorVerificationParams{
		RecordID:   recordID,
		Verified:   *req.Verified,
		Comment:    normaliseID(req.Comment),
		VerifiedBy: caller.UserID,
		VerifiedAt: s.now().UTC(),
	}
	if err := s.attendance.UpdateSupervisorVerification(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Storage(err, "failed to verify attendance record")
	}
	record, err := s.attendance.FindByID(ctx, recordID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to reload attendance record")
	}

	emitAudit(ctx, s.audit, s.logger, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionAttendanceVerified,
		TargetType: models.AuditTargetAttendance,
		TargetID:   recordID,
		Metadata: map[string]interface{}{
			"scheduleId": record.CourseScheduleID,
			"verified":   params.Verified,
		},
	})
	return record, nil
}

// SessionVerification picks the first or the latest check of a schedule on
// date, counted in UTC. An empty mode means latest. Lecturers may read their
// own sessions only.
func (s *SupervisorService) SessionVerification(ctx context.Context, caller models.Caller, scheduleID string, date time.Time, rawMode string) (*models.SessionVerification, error) {
	if !caller.Can(models.CanViewAttendance) {
		return nil, appErrors.ErrForbidden
	}
	mode := models.VerificationMode(rawMode)
	switch mode {
	case "":
		mode = models.VerificationLatest
	case models.VerificationFirst, models.VerificationLatest:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "mode must be first or latest")
	}
	schedule, err := s.loadSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !caller.CanViewSessionOf(schedule.LecturerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another lecturer")
	}

	day := date.UTC().Truncate(24 * time.Hour)
	logs, err := s.logs.ListForDay(ctx, scheduleID, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load supervisor checks")
	}
	result := &models.SessionVerification{
		ScheduleID:  scheduleID,
		Date:        day.Format("2006-01-02"),
		Mode:        mode,
		TotalChecks: len(logs),
	}
	if len(logs) > 0 {
		pick := logs[0]
		if mode == models.VerificationLatest {
			pick = logs[len(logs)-1]
		}
		result.Check = &pick
	}
	return result, nil
}

func (s *SupervisorService) loadSchedule(ctx context.Context, id string) (*models.CourseSchedule, error) {
	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Storage(err, "failed to load schedule")
	}
	return schedule, nil
}
