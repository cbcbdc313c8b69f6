package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileRepositoryMergeDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReconcileRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM course_schedules WHERE id IN ($1, $2) ORDER BY id FOR UPDATE")).
		WithArgs("keep", "dup").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("dup").AddRow("keep"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_records SET course_schedule_id = $1 WHERE course_schedule_id = $2")).
		WithArgs("keep", "dup").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervisor_logs SET course_schedule_id = $1 WHERE course_schedule_id = $2")).
		WithArgs("keep", "dup").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE virtual_sessions SET course_schedule_id = $1 WHERE course_schedule_id = $2")).
		WithArgs("keep", "dup").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_schedules WHERE id = $1")).
		WithArgs("dup").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	merge, err := repo.MergeDuplicate(context.Background(), "keep", "dup")
	require.NoError(t, err)
	assert.Equal(t, int64(3), merge.AttendanceMoved)
	assert.Equal(t, int64(2), merge.SupervisorLogsMoved)
	assert.Equal(t, int64(0), merge.VirtualSessionsMoved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileRepositoryMergeRollsBackBeforeDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReconcileRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("dup").AddRow("keep"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_records")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE supervisor_logs")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	merge, err := repo.MergeDuplicate(context.Background(), "keep", "dup")
	require.Error(t, err)
	assert.Zero(t, merge.AttendanceMoved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileRepositoryMergeMissingSchedule(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReconcileRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("keep"))
	mock.ExpectRollback()

	_, err := repo.MergeDuplicate(context.Background(), "keep", "dup")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
