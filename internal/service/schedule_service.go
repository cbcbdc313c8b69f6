package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

type scheduleStore interface {
	WithSlotLock(ctx context.Context, keys []string, fn func(store repository.ScheduleSlotStore) error) error
	FindByID(ctx context.Context, id string) (*models.CourseSchedule, error)
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.CourseSchedule, int, error)
}

type classroomLocator interface {
	FindLocation(ctx context.Context, classroomID string) (*models.ClassroomLocation, error)
}

// ScheduleService creates and adjusts course schedules without double booking.
type ScheduleService struct {
	repo       scheduleStore
	classrooms classroomLocator
	audit      auditLogger
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewScheduleService constructs the service.
func NewScheduleService(repo scheduleStore, classrooms classroomLocator, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	registerValidations(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, classrooms: classrooms, audit: audit, metrics: metrics, validator: validate, logger: logger}
}

// CreateSchedule validates the slot, then checks for conflicts and inserts
// while holding the lecturer, class group and classroom locks.
func (s *ScheduleService) CreateSchedule(ctx context.Context, caller models.Caller, req dto.CreateScheduleRequest) (*models.CourseSchedule, error) {
	if !caller.Can(models.CanCreateSchedule) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if _, err := models.NewTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	sessionType := models.SessionType(req.SessionType)
	classroomID := normaliseID(req.ClassroomID)
	if err := checkSessionLocation(sessionType, classroomID); err != nil {
		return nil, err
	}
	if err := s.ensureClassroom(ctx, classroomID); err != nil {
		return nil, err
	}

	schedule := &models.CourseSchedule{
		CourseID:     req.CourseID,
		ClassGroupID: req.ClassGroupID,
		LecturerID:   req.LecturerID,
		ClassroomID:  classroomID,
		DayOfWeek:    *req.DayOfWeek,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		SessionType:  sessionType,
		MeetingLink:  normaliseID(req.MeetingLink),
	}
	candidate := candidateFor(schedule, "")
	keys := repository.ScheduleLockKeys(schedule.LecturerID, schedule.ClassGroupID, schedule.ClassroomID)

	err := s.repo.WithSlotLock(ctx, keys, func(store repository.ScheduleSlotStore) error {
		conflict, err := DetectConflict(ctx, store, candidate)
		if err != nil {
			return err
		}
		if conflict != nil {
			return &models.ScheduleConflictError{Conflict: *conflict}
		}
		return store.Insert(ctx, schedule)
	})
	if err != nil {
		return nil, s.scheduleWriteError(ctx, err, candidate, keys)
	}

	s.logger.Info("schedule created",
		zap.String("schedule_id", schedule.ID),
		zap.String("lecturer_id", schedule.LecturerID),
		zap.Int("day_of_week", schedule.DayOfWeek),
	)
	emitAudit(ctx, s.audit, s.logger, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionScheduleCreated,
		TargetType: models.AuditTargetSchedule,
		TargetID:   schedule.ID,
		Metadata: map[string]interface{}{
			"courseId":     schedule.CourseID,
			"classGroupId": schedule.ClassGroupID,
			"lecturerId":   schedule.LecturerID,
			"classroomId":  derefString(schedule.ClassroomID),
			"dayOfWeek":    schedule.DayOfWeek,
			"startTime":    schedule.StartTime,
			"endTime":      schedule.EndTime,
			"sessionType":  string(schedule.SessionType),
		},
	})
	return schedule, nil
}

// UpdateScheduleLocation changes the meeting link and/or classroom, the only
// mutable fields of a schedule. A classroom change is re-checked for conflicts.
func (s *ScheduleService) UpdateScheduleLocation(ctx context.Context, caller models.Caller, id string, req dto.UpdateScheduleLocationRequest) (*models.CourseSchedule, error) {
	if !caller.Can(models.CanUpdateSchedule) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.ClearClassroom && req.ClassroomID != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "classroomId and clearClassroom are mutually exclusive")
	}
	if req.MeetingLink == nil && req.ClassroomID == nil && !req.ClearClassroom {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}

	current, err := s.loadSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	classroomID := current.ClassroomID
	switch {
	case req.ClearClassroom:
		classroomID = nil
	case req.ClassroomID != nil:
		classroomID = normaliseID(req.ClassroomID)
	}
	if err := checkSessionLocation(current.SessionType, classroomID); err != nil {
		return nil, err
	}
	classroomChanged := derefString(classroomID) != derefString(current.ClassroomID)
	if classroomChanged {
		if err := s.ensureClassroom(ctx, classroomID); err != nil {
			return nil, err
		}
	}

	var updated *models.CourseSchedule
	var previousClassroom string
	keys := repository.ScheduleLockKeys(current.LecturerID, current.ClassGroupID, classroomID)
	candidate := candidateFor(current, id)
	candidate.ClassroomID = classroomID

	err = s.repo.WithSlotLock(ctx, keys, func(store repository.ScheduleSlotStore) error {
		locked, err := store.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previousClassroom = derefString(locked.ClassroomID)
		if classroomChanged && classroomID != nil {
			conflict, err := DetectConflict(ctx, store, candidate)
			if err != nil {
				return err
			}
			if conflict != nil {
				return &models.ScheduleConflictError{Conflict: *conflict}
			}
		}
		locked.ClassroomID = classroomID
		if req.MeetingLink != nil {
			locked.MeetingLink = normaliseID(req.MeetingLink)
		}
		if err := store.UpdateLocation(ctx, locked); err != nil {
			return err
		}
		updated = locked
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, s.scheduleWriteError(ctx, err, candidate, keys)
	}

	emitAudit(ctx, s.audit, s.logger, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionScheduleUpdated,
		TargetType: models.AuditTargetSchedule,
		TargetID:   updated.ID,
		Metadata: map[string]interface{}{
			"previousClassroomId": previousClassroom,
			"classroomId":         derefString(updated.ClassroomID),
			"meetingLinkChanged":  req.MeetingLink != nil,
		},
	})
	return updated, nil
}

// GetSchedule loads one schedule.
func (s *ScheduleService) GetSchedule(ctx context.Context, caller models.Caller, id string) (*models.CourseSchedule, error) {
	if !caller.Can(models.CanViewSchedule) {
		return nil, appErrors.ErrForbidden
	}
	return s.loadSchedule(ctx, id)
}

func (s *ScheduleService) loadSchedule(ctx context.Context, id string) (*models.CourseSchedule, error) {
	schedule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Storage(err, "failed to load schedule")
	}
	return schedule, nil
}

// ListSchedules returns a filtered page of schedules.
func (s *ScheduleService) ListSchedules(ctx context.Context, caller models.Caller, filter models.ScheduleFilter) ([]models.CourseSchedule, *models.Pagination, error) {
	if !caller.Can(models.CanViewSchedule) {
		return nil, nil, appErrors.ErrForbidden
	}
	if filter.DayOfWeek != nil && (*filter.DayOfWeek < 0 || *filter.DayOfWeek > 6) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "dayOfWeek must be between 0 and 6")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "failed to list schedules")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// scheduleWriteError maps a failed locked write to the error taxonomy. A
// unique index hit means a writer slipped past the locks; the detector is
// re-run so the caller still learns which resource is taken.
func (s *ScheduleService) scheduleWriteError(ctx context.Context, err error, candidate ScheduleCandidate, keys []string) error {
	var conflictErr *models.ScheduleConflictError
	if errors.As(err, &conflictErr) {
		return s.conflictError(conflictErr.Conflict)
	}
	switch {
	case repository.IsUniqueViolation(err):
		var conflict *models.ScheduleConflict
		recheck := s.repo.WithSlotLock(ctx, keys, func(store repository.ScheduleSlotStore) error {
			var err error
			conflict, err = DetectConflict(ctx, store, candidate)
			return err
		})
		if recheck == nil && conflict != nil {
			return s.conflictError(*conflict)
		}
		return appErrors.Wrap(err, appErrors.ErrScheduleConflict.Code, appErrors.ErrScheduleConflict.Status, "schedule slot already taken")
	case repository.IsForeignKeyViolation(err):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "referenced entity missing")
	}
	return storageError(err, "failed to save schedule")
}

func (s *ScheduleService) conflictError(conflict models.ScheduleConflict) error {
	s.metrics.RecordScheduleConflict(conflict.Dimension)
	s.logger.Info("schedule conflict",
		zap.String("dimension", string(conflict.Dimension)),
		zap.String("resource_id", conflict.ResourceID),
		zap.String("conflicting_schedule_id", conflict.ConflictingScheduleID),
	)
	err := &models.ScheduleConflictError{Conflict: conflict}
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrScheduleConflict, err.Error()), conflict)
}

func (s *ScheduleService) ensureClassroom(ctx context.Context, classroomID *string) error {
	if classroomID == nil || s.classrooms == nil {
		return nil
	}
	if _, err := s.classrooms.FindLocation(ctx, *classroomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return appErrors.Storage(err, "failed to load classroom")
	}
	return nil
}

func checkSessionLocation(sessionType models.SessionType, classroomID *string) error {
	switch sessionType {
	case models.SessionTypeVirtual:
		if classroomID != nil {
			return appErrors.Clone(appErrors.ErrValidation, "virtual sessions cannot have a classroom")
		}
	case models.SessionTypeLecture:
		if classroomID == nil {
			return appErrors.Clone(appErrors.ErrValidation, "lecture sessions require a classroom")
		}
	case models.SessionTypeHybrid:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown session type")
	}
	return nil
}

func candidateFor(schedule *models.CourseSchedule, excludeID string) ScheduleCandidate {
	return ScheduleCandidate{
		ExcludeID:    excludeID,
		DayOfWeek:    schedule.DayOfWeek,
		StartTime:    schedule.StartTime,
		EndTime:      schedule.EndTime,
		LecturerID:   schedule.LecturerID,
		ClassGroupID: schedule.ClassGroupID,
		ClassroomID:  schedule.ClassroomID,
	}
}

func normaliseID(v *string) *string {
	if v == nil {
		return nil
	}
	return optionalString(*v)
}
