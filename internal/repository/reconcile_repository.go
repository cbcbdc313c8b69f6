package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// ReconcileRepository folds duplicate schedule rows into their kept twin.
type ReconcileRepository struct {
	db *sqlx.DB
}

// NewReconcileRepository constructs the repository.
func NewReconcileRepository(db *sqlx.DB) *ReconcileRepository {
	return &ReconcileRepository{db: db}
}

// MergeDuplicate re-points every dependent row of duplicateID to keptID and
// deletes the duplicate, all in one transaction. Re-pointing is idempotent,
// so a retry after a failed commit converges.
func (r *ReconcileRepository) MergeDuplicate(ctx context.Context, keptID, duplicateID string) (models.ScheduleMerge, error) {
	merge := models.ScheduleMerge{KeptID: keptID, DuplicateID: duplicateID}
	err := runInTx(ctx, r.db, "schedule merge", func(tx *sqlx.Tx) error {
		var locked []string
		if err := tx.SelectContext(ctx, &locked, `SELECT id FROM course_schedules WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`, keptID, duplicateID); err != nil {
			return fmt.Errorf("lock schedules for merge: %w", err)
		}
		if len(locked) != 2 {
			return sql.ErrNoRows
		}

		var err error
		if merge.AttendanceMoved, err = repoint(ctx, tx, "attendance_records", keptID, duplicateID); err != nil {
			return err
		}
		if merge.SupervisorLogsMoved, err = repoint(ctx, tx, "supervisor_logs", keptID, duplicateID); err != nil {
			return err
		}
		if merge.VirtualSessionsMoved, err = repoint(ctx, tx, "virtual_sessions", keptID, duplicateID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM course_schedules WHERE id = $1`, duplicateID); err != nil {
			return fmt.Errorf("delete duplicate schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.ScheduleMerge{KeptID: keptID, DuplicateID: duplicateID}, err
	}
	return merge, nil
}

func repoint(ctx context.Context, tx *sqlx.Tx, table, keptID, duplicateID string) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET course_schedule_id = $1 WHERE course_schedule_id = $2`, table)
	result, err := tx.ExecContext(ctx, query, keptID, duplicateID)
	if err != nil {
		return 0, fmt.Errorf("repoint %s: %w", table, err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", table, err)
	}
	return moved, nil
}
