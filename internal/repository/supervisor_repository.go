package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

const supervisorLogColumns = `id, supervisor_id, course_schedule_id, status, comments, platform, connection_quality, student_count_online, check_in_time, created_at`

// SupervisorLogRepository persists supervisor spot checks.
type SupervisorLogRepository struct {
	db *sqlx.DB
}

// NewSupervisorLogRepository constructs the repository.
func NewSupervisorLogRepository(db *sqlx.DB) *SupervisorLogRepository {
	return &SupervisorLogRepository{db: db}
}

// Create stores a supervisor log.
func (r *SupervisorLogRepository) Create(ctx context.Context, log *models.SupervisorLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO supervisor_logs (` + supervisorLogColumns + `)
VALUES (:id, :supervisor_id, :course_schedule_id, :status, :comments, :platform, :connection_quality, :student_count_online, :check_in_time, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("insert supervisor log: %w", err)
	}
	return nil
}

// ListForDay returns a schedule's logs with check-in in [from, to), oldest first.
func (r *SupervisorLogRepository) ListForDay(ctx context.Context, scheduleID string, from, to time.Time) ([]models.SupervisorLog, error) {
	query := `SELECT ` + supervisorLogColumns + ` FROM supervisor_logs
WHERE course_schedule_id = $1 AND check_in_time >= $2 AND check_in_time < $3
ORDER BY check_in_time ASC, created_at ASC, id ASC`
	var logs []models.SupervisorLog
	if err := r.db.SelectContext(ctx, &logs, query, scheduleID, from, to); err != nil {
		return nil, fmt.Errorf("list supervisor logs: %w", err)
	}
	return logs, nil
}
