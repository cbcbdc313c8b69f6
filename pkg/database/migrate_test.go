package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMigrateMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestMigrateAppliesPendingInOrder(t *testing.T) {
	db, mock, cleanup := newMigrateMock(t)
	defer cleanup()

	files := fstest.MapFS{
		"0002_second.sql": {Data: []byte("CREATE INDEX b")},
		"0001_first.sql":  {Data: []byte("CREATE TABLE a")},
		"README.md":       {Data: []byte("ignored")},
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_first"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX b")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version) VALUES ($1)")).
		WithArgs("0002_second").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ran, err := Migrate(context.Background(), db, files, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_second"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRollsBackFailedFile(t *testing.T) {
	db, mock, cleanup := newMigrateMock(t)
	defer cleanup()

	files := fstest.MapFS{"0001_first.sql": {Data: []byte("CREATE TABLE a")}}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	ran, err := Migrate(context.Background(), db, files, nil)
	require.Error(t, err)
	assert.Empty(t, ran)
	assert.Contains(t, err.Error(), "0001_first")
	assert.NoError(t, mock.ExpectationsWereMet())
}
