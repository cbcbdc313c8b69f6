package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

const attendanceColumns = `id, lecturer_id, course_schedule_id, timestamp, method, gps_latitude, gps_longitude, distance_meters, location_verified, student_attendance_data, remarks, supervisor_verified, supervisor_comment, supervisor_verified_by, supervisor_verified_at, created_at, updated_at`

// AttendanceSubmissionStore is the transaction-scoped view used while the submission lock is held.
type AttendanceSubmissionStore interface {
	FindWithinWindow(ctx context.Context, scheduleID, lecturerID string, from, to time.Time) (*models.AttendanceRecord, error)
	Insert(ctx context.Context, record *models.AttendanceRecord) error
}

// SupervisorVerificationParams carries a supervisor's verdict on a record.
type SupervisorVerificationParams struct {
	RecordID   string
	Verified   bool
	Comment    *string
	VerifiedBy string
	VerifiedAt time.Time
}

// AttendanceRepository persists attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// SubmissionLockKey identifies the dedup critical section of one lecturer on one schedule.
func SubmissionLockKey(scheduleID, lecturerID string) string {
	return "attendance:" + scheduleID + ":" + lecturerID
}

// WithSubmissionLock runs fn in a transaction holding the advisory lock for
// the schedule-lecturer pair, so concurrent replays of one event serialize.
func (r *AttendanceRepository) WithSubmissionLock(ctx context.Context, scheduleID, lecturerID string, fn func(store AttendanceSubmissionStore) error) error {
	return runInTx(ctx, r.db, "attendance submission transaction", func(tx *sqlx.Tx) error {
		if err := lockKeys(ctx, tx, []string{SubmissionLockKey(scheduleID, lecturerID)}); err != nil {
			return err
		}
		return fn(&attendanceTxStore{tx: tx})
	})
}

// FindByID loads an attendance record.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE id = $1`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListBySchedule returns records of a schedule ordered by event time.
func (r *AttendanceRepository) ListBySchedule(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	conditions := []string{"course_schedule_id = $1"}
	args := []interface{}{filter.CourseScheduleID}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM attendance_records WHERE %s ORDER BY timestamp ASC, id ASC LIMIT %d",
		attendanceColumns, strings.Join(conditions, " AND "), limit)
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return records, nil
}

// UpdateSupervisorVerification records a supervisor's verdict; it is the only mutation of a record.
func (r *AttendanceRepository) UpdateSupervisorVerification(ctx context.Context, params SupervisorVerificationParams) error {
	const query = `UPDATE attendance_records SET supervisor_verified = $1, supervisor_comment = $2, supervisor_verified_by = $3, supervisor_verified_at = $4, updated_at = $4 WHERE id = $5`
	result, err := r.db.ExecContext(ctx, query, params.Verified, params.Comment, params.VerifiedBy, params.VerifiedAt, params.RecordID)
	if err != nil {
		return fmt.Errorf("update supervisor verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("supervisor verification rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type attendanceTxStore struct {
	tx *sqlx.Tx
}

// FindWithinWindow returns the earliest accepted record inside [from, to], or nil.
func (s *attendanceTxStore) FindWithinWindow(ctx context.Context, scheduleID, lecturerID string, from, to time.Time) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
WHERE course_schedule_id = $1 AND lecturer_id = $2 AND timestamp BETWEEN $3 AND $4
ORDER BY created_at ASC, id ASC LIMIT 1`
	var record models.AttendanceRecord
	if err := s.tx.GetContext(ctx, &record, query, scheduleID, lecturerID, from, to); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find attendance within window: %w", err)
	}
	return &record, nil
}

func (s *attendanceTxStore) Insert(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO attendance_records (id, lecturer_id, course_schedule_id, timestamp, method, gps_latitude, gps_longitude, distance_meters, location_verified, student_attendance_data, remarks, created_at, updated_at)
VALUES (:id, :lecturer_id, :course_schedule_id, :timestamp, :method, :gps_latitude, :gps_longitude, :distance_meters, :location_verified, :student_attendance_data, :remarks, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, s.tx, query, record); err != nil {
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}
