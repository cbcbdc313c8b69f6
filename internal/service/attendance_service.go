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
	"github.com/noah-isme/sma-attendance-api/pkg/geo"
)

const (
	defaultDedupWindow   = 5 * time.Minute
	defaultMaxFutureSkew = 10 * time.Minute
)

type attendanceStore interface {
	WithSubmissionLock(ctx context.Context, scheduleID, lecturerID string, fn func(store repository.AttendanceSubmissionStore) error) error
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	ListBySchedule(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error)
}

type scheduleReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseSchedule, error)
}

// AttendanceServiceConfig tunes replay tolerance.
type AttendanceServiceConfig struct {
	DedupWindow   time.Duration
	MaxFutureSkew time.Duration
	Now           func() time.Time
}

// AttendanceService turns live or replayed submissions into exactly one record per session occurrence.
type AttendanceService struct {
	repo       attendanceStore
	schedules  scheduleReader
	classrooms classroomLocator
	geofence   *GeofenceValidator
	audit      auditLogger
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        AttendanceServiceConfig
}

// NewAttendanceService constructs the service.
func NewAttendanceService(
	repo attendanceStore,
	schedules scheduleReader,
	classrooms classroomLocator,
	geofence *GeofenceValidator,
	audit auditLogger,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AttendanceServiceConfig,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	registerValidations(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	if geofence == nil {
		geofence = NewGeofenceValidator(DefaultGeofenceRadiusMeters)
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	if cfg.MaxFutureSkew <= 0 {
		cfg.MaxFutureSkew = defaultMaxFutureSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AttendanceService{
		repo:       repo,
		schedules:  schedules,
		classrooms: classrooms,
		geofence:   geofence,
		audit:      audit,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
	}
}

// SubmitAttendance records a submission or recognises it as a replay of an
// accepted one. A duplicate is not an error: the result carries the original
// record id with Created false.
func (s *AttendanceService) SubmitAttendance(ctx context.Context, caller models.Caller, req dto.SubmitAttendanceRequest) (*models.SubmissionResult, error) {
	if !caller.Can(models.CanRecordAttendance) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	timestamp := req.Timestamp.UTC()
	if timestamp.After(s.cfg.Now().Add(s.cfg.MaxFutureSkew)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timestamp is too far in the future")
	}
	var point *geo.Point
	if req.Location != nil {
		if req.Location.Latitude == nil || req.Location.Longitude == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "location requires latitude and longitude")
		}
		p := geo.Point{Latitude: *req.Location.Latitude, Longitude: *req.Location.Longitude}
		if err := geo.Validate(p); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		point = &p
	}

	schedule, err := s.schedules.FindByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Storage(err, "failed to load session")
	}
	if schedule.LecturerID != caller.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "caller does not teach this session")
	}

	record := &models.AttendanceRecord{
		LecturerID:       caller.UserID,
		CourseScheduleID: schedule.ID,
		Timestamp:        timestamp,
		Remarks:          normaliseID(req.Remarks),
	}
	evaluated := false
	if schedule.IsVirtual() {
		record.Method = models.AttendanceMethodVirtual
	} else {
		record.Method = models.AttendanceMethodOnsite
		record.StudentAttendanceData = presenceList(req.Students)
		if point != nil {
			record.GPSLatitude = &point.Latitude
			record.GPSLongitude = &point.Longitude
			evaluated, err = s.checkLocation(ctx, *schedule.ClassroomID, *point, record)
			if err != nil {
				return nil, err
			}
		}
	}

	result := &models.SubmissionResult{Method: record.Method}
	window := s.cfg.DedupWindow
	err = s.repo.WithSubmissionLock(ctx, schedule.ID, caller.UserID, func(store repository.AttendanceSubmissionStore) error {
		existing, err := store.FindWithinWindow(ctx, schedule.ID, caller.UserID, timestamp.Add(-window), timestamp.Add(window))
		if err != nil {
			return err
		}
		if existing != nil {
			result.RecordID = existing.ID
			result.DuplicateOf = &existing.ID
			result.Method = existing.Method
			result.LocationVerified = existing.LocationVerified
			result.DistanceMeters = existing.DistanceMeters
			result.Timestamp = existing.Timestamp
			return nil
		}
		if err := store.Insert(ctx, record); err != nil {
			return err
		}
		result.RecordID = record.ID
		result.Created = true
		result.LocationVerified = record.LocationVerified
		result.DistanceMeters = record.DistanceMeters
		result.Timestamp = record.Timestamp
		return nil
	})
	if err != nil {
		if repository.IsForeignKeyViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "session not found")
		}
		return nil, storageError(err, "failed to record attendance")
	}

	s.metrics.RecordSubmission(result.Created, result.Method)
	if !result.Created {
		s.logger.Info("duplicate attendance submission",
			zap.String("schedule_id", schedule.ID),
			zap.String("lecturer_id", caller.UserID),
			zap.String("duplicate_of", result.RecordID),
		)
		return result, nil
	}
	if record.Method == models.AttendanceMethodOnsite {
		s.metrics.RecordGeofence(evaluated, record.LocationVerified)
	}

	metadata := map[string]interface{}{
		"scheduleId":       schedule.ID,
		"method":           string(record.Method),
		"locationVerified": record.LocationVerified,
		"timestamp":        timestamp.Format(time.RFC3339),
	}
	if record.DistanceMeters != nil {
		metadata["distanceMeters"] = *record.DistanceMeters
	}
	emitAudit(ctx, s.audit, s.logger, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionAttendanceRecorded,
		TargetType: models.AuditTargetAttendance,
		TargetID:   record.ID,
		Metadata:   metadata,
	})
	return result, nil
}

// checkLocation runs the geofence against the classroom's building. It
// reports whether a check was possible; a building without coordinates leaves
// the record unverified.
func (s *AttendanceService) checkLocation(ctx context.Context, classroomID string, point geo.Point, record *models.AttendanceRecord) (bool, error) {
	if s.classrooms == nil {
		return false, nil
	}
	location, err := s.classrooms.FindLocation(ctx, classroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return false, appErrors.Storage(err, "failed to load classroom")
	}
	if !location.HasCoordinates() {
		s.logger.Warn("building has no coordinates, skipping geofence",
			zap.String("classroom_id", classroomID),
			zap.String("building_id", location.BuildingID),
		)
		return false, nil
	}
	res := s.geofence.Check(point, geo.Point{Latitude: *location.GPSLatitude, Longitude: *location.GPSLongitude})
	record.LocationVerified = res.Verified
	distance := res.DistanceMeters
	record.DistanceMeters = &distance
	return true, nil
}

// GetAttendanceRecord loads one record. Lecturers only see their own records.
func (s *AttendanceService) GetAttendanceRecord(ctx context.Context, caller models.Caller, id string) (*models.AttendanceRecord, error) {
	if !caller.Can(models.CanViewAttendance) {
		return nil, appErrors.ErrForbidden
	}
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Storage(err, "failed to load attendance record")
	}
	if !caller.CanViewSessionOf(record.LecturerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attendance record belongs to another lecturer")
	}
	return record, nil
}

// ListAttendance returns a schedule's records between from and to, both optional.
func (s *AttendanceService) ListAttendance(ctx context.Context, caller models.Caller, scheduleID string, from, to *time.Time) ([]models.AttendanceRecord, error) {
	if !caller.Can(models.CanViewAttendance) {
		return nil, appErrors.ErrForbidden
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not precede from")
	}
	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Storage(err, "failed to load schedule")
	}
	if !caller.CanViewSessionOf(schedule.LecturerID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another lecturer")
	}
	records, err := s.repo.ListBySchedule(ctx, models.AttendanceFilter{CourseScheduleID: scheduleID, From: from, To: to})
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list attendance")
	}
	return records, nil
}

func presenceList(in []dto.StudentPresenceRequest) models.StudentAttendanceData {
	out := make(models.StudentAttendanceData, 0, len(in))
	for _, p := range in {
		out = append(out, models.StudentPresence{StudentID: p.StudentID, IsPresent: p.IsPresent})
	}
	return out
}
