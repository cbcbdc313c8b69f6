package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

const scheduleColumns = `id, course_id, class_group_id, lecturer_id, classroom_id, day_of_week, start_time, end_time, session_type, meeting_link, created_at, updated_at`

// ScheduleSlotStore is the transaction-scoped view used while resource locks are held.
type ScheduleSlotStore interface {
	ListByResource(ctx context.Context, dimension models.ConflictDimension, resourceID string, dayOfWeek int, excludeID string) ([]models.CourseSchedule, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.CourseSchedule, error)
	Insert(ctx context.Context, schedule *models.CourseSchedule) error
	UpdateLocation(ctx context.Context, schedule *models.CourseSchedule) error
}

// ScheduleRepository provides persistence for course schedules.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ScheduleLockKeys returns the advisory lock keys guarding a schedule's resources.
func ScheduleLockKeys(lecturerID, classGroupID string, classroomID *string) []string {
	keys := []string{"lecturer:" + lecturerID, "group:" + classGroupID}
	if classroomID != nil && *classroomID != "" {
		keys = append(keys, "room:"+*classroomID)
	}
	return keys
}

// WithSlotLock runs fn in a transaction holding advisory locks on keys, so
// the conflict check and the write it guards cannot interleave with another
// writer of the same lecturer, class group or classroom.
func (r *ScheduleRepository) WithSlotLock(ctx context.Context, keys []string, fn func(store ScheduleSlotStore) error) error {
	return runInTx(ctx, r.db, "schedule slot transaction", func(tx *sqlx.Tx) error {
		if err := lockKeys(ctx, tx, keys); err != nil {
			return err
		}
		return fn(&scheduleTxStore{tx: tx})
	})
}

// FindByID loads a schedule by id.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.CourseSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM course_schedules WHERE id = $1`
	var schedule models.CourseSchedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// List returns schedules with optional filtering and pagination.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.CourseSchedule, int, error) {
	base := "FROM course_schedules WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.LecturerID != "" {
		conditions = append(conditions, fmt.Sprintf("lecturer_id = $%d", len(args)+1))
		args = append(args, filter.LecturerID)
	}
	if filter.ClassGroupID != "" {
		conditions = append(conditions, fmt.Sprintf("class_group_id = $%d", len(args)+1))
		args = append(args, filter.ClassGroupID)
	}
	if filter.ClassroomID != "" {
		conditions = append(conditions, fmt.Sprintf("classroom_id = $%d", len(args)+1))
		args = append(args, filter.ClassroomID)
	}
	if filter.DayOfWeek != nil {
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, *filter.DayOfWeek)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY day_of_week ASC, start_time ASC, id ASC LIMIT %d OFFSET %d", scheduleColumns, base, size, offset)
	var schedules []models.CourseSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}
	return schedules, total, nil
}

// ListInCreationOrder returns every schedule ordered by creation time, then id.
func (r *ScheduleRepository) ListInCreationOrder(ctx context.Context) ([]models.CourseSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM course_schedules ORDER BY created_at ASC, id ASC`
	var schedules []models.CourseSchedule
	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, fmt.Errorf("list schedules in creation order: %w", err)
	}
	return schedules, nil
}

type scheduleTxStore struct {
	tx *sqlx.Tx
}

var dimensionColumns = map[models.ConflictDimension]string{
	models.ConflictLecturer:   "lecturer_id",
	models.ConflictClassGroup: "class_group_id",
	models.ConflictClassroom:  "classroom_id",
}

func (s *scheduleTxStore) ListByResource(ctx context.Context, dimension models.ConflictDimension, resourceID string, dayOfWeek int, excludeID string) ([]models.CourseSchedule, error) {
	column, ok := dimensionColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown conflict dimension %q", dimension)
	}
	query := fmt.Sprintf(`SELECT %s FROM course_schedules WHERE %s = $1 AND day_of_week = $2 AND id <> $3 ORDER BY start_time ASC, id ASC`, scheduleColumns, column)
	var schedules []models.CourseSchedule
	if err := s.tx.SelectContext(ctx, &schedules, query, resourceID, dayOfWeek, excludeID); err != nil {
		return nil, fmt.Errorf("list schedules by %s: %w", column, err)
	}
	return schedules, nil
}

func (s *scheduleTxStore) FindByIDForUpdate(ctx context.Context, id string) (*models.CourseSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM course_schedules WHERE id = $1 FOR UPDATE`
	var schedule models.CourseSchedule
	if err := s.tx.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *scheduleTxStore) Insert(ctx context.Context, schedule *models.CourseSchedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	const query = `INSERT INTO course_schedules (` + scheduleColumns + `)
VALUES (:id, :course_id, :class_group_id, :lecturer_id, :classroom_id, :day_of_week, :start_time, :end_time, :session_type, :meeting_link, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, s.tx, query, schedule); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (s *scheduleTxStore) UpdateLocation(ctx context.Context, schedule *models.CourseSchedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_schedules SET classroom_id = :classroom_id, meeting_link = :meeting_link, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, s.tx, query, schedule); err != nil {
		return fmt.Errorf("update schedule location: %w", err)
	}
	return nil
}
