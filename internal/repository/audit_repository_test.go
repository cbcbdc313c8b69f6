package repository

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

var auditRowColumns = []string{"id", "sequence", "user_id", "action", "target_type", "target_id", "metadata", "risk_score", "ip_address", "user_agent", "timestamp", "integrity_digest"}

var genesis = strings.Repeat("0", 64)

func chainHeadRows(lastSeq int64, lastDigest string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"last_sequence", "last_digest", "anchor_sequence", "anchor_digest", "updated_at"}).
		AddRow(lastSeq, lastDigest, 0, genesis, time.Now())
}

func TestAuditRepositoryWithChainLockAppends(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_chain_state WHERE id = 1 FOR UPDATE")).
		WillReturnRows(chainHeadRows(4, "abc"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log_entries")).
		WithArgs("01ENTRY", int64(5), "u1", models.AuditActionScheduleCreated, models.AuditTargetSchedule, nil, sqlmock.AnyArg(), 20, nil, nil, now, "digest").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_chain_state SET last_sequence = $1, last_digest = $2")).
		WithArgs(int64(5), "digest", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithChainLock(context.Background(), func(store AuditChainStore, head *models.AuditChainHead) error {
		assert.Equal(t, int64(4), head.LastSequence)
		entry := &models.AuditLogEntry{
			ID:              "01ENTRY",
			Sequence:        head.LastSequence + 1,
			UserID:          "u1",
			Action:          models.AuditActionScheduleCreated,
			TargetType:      models.AuditTargetSchedule,
			RiskScore:       20,
			Timestamp:       now,
			IntegrityDigest: "digest",
		}
		if err := store.Insert(context.Background(), entry); err != nil {
			return err
		}
		return store.AdvanceHead(context.Background(), entry.Sequence, entry.IntegrityDigest, now)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCleanupPrefix(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	old := cutoff.Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_chain_state WHERE id = 1 FOR UPDATE")).
		WillReturnRows(chainHeadRows(10, "head"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MIN(sequence) FROM audit_log_entries WHERE timestamp >= $1")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(auditRowColumns).AddRow("e3", 3, "u1", "X", "T", nil, []byte(`{}`), 50, nil, nil, old, "d3"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log_entries WHERE sequence <= $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_chain_state SET anchor_sequence = $1, anchor_digest = $2")).
		WithArgs(int64(3), "d3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var deleted int64
	err := repo.WithChainLock(context.Background(), func(store AuditChainStore, head *models.AuditChainHead) error {
		last, err := store.LastExpiredInPrefix(context.Background(), cutoff)
		if err != nil {
			return err
		}
		require.NotNil(t, last)
		if deleted, err = store.DeleteThrough(context.Background(), last.Sequence); err != nil {
			return err
		}
		return store.SetAnchor(context.Background(), last.Sequence, last.IntegrityDigest, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryFindBySequenceMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log_entries WHERE sequence = $1")).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	entry, err := repo.FindBySequence(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	minRisk := 40
	ts := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log_entries WHERE user_id = $1 AND action = $2 AND risk_score >= $3 ORDER BY sequence DESC LIMIT 50 OFFSET 0")).
		WithArgs("u1", models.AuditActionLogExported, 40).
		WillReturnRows(sqlmock.NewRows(auditRowColumns).
			AddRow("e1", 1, "u1", models.AuditActionLogExported, models.AuditTargetAuditLog, nil, []byte(`{"count":2}`), 50, "10.0.0.1", nil, ts, "d1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_log_entries WHERE user_id = $1 AND action = $2 AND risk_score >= $3")).
		WithArgs("u1", models.AuditActionLogExported, 40).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	entries, total, err := repo.List(context.Background(), models.AuditFilter{UserID: "u1", Action: models.AuditActionLogExported, MinRisk: &minRisk})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(2), entries[0].Metadata["count"])
	require.NotNil(t, entries[0].IPAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}
