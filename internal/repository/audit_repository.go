package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

const auditColumns = `id, sequence, user_id, action, target_type, target_id, metadata, risk_score, ip_address, user_agent, timestamp, integrity_digest`

const chainHeadColumns = `last_sequence, last_digest, anchor_sequence, anchor_digest, updated_at`

// AuditChainStore is the transaction-scoped view available while the chain head row is locked.
type AuditChainStore interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	AdvanceHead(ctx context.Context, sequence int64, digest string, at time.Time) error
	LastExpiredInPrefix(ctx context.Context, cutoff time.Time) (*models.AuditLogEntry, error)
	DeleteThrough(ctx context.Context, sequence int64) (int64, error)
	SetAnchor(ctx context.Context, sequence int64, digest string, at time.Time) error
}

// AuditRepository persists the hash-chained audit ledger.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// WithChainLock runs fn in a transaction holding the chain head row lock and
// hands it the locked head. Every ledger writer goes through here, which
// gives appends a single global order.
func (r *AuditRepository) WithChainLock(ctx context.Context, fn func(store AuditChainStore, head *models.AuditChainHead) error) error {
	return runInTx(ctx, r.db, "audit chain transaction", func(tx *sqlx.Tx) error {
		var head models.AuditChainHead
		if err := tx.GetContext(ctx, &head, `SELECT `+chainHeadColumns+` FROM audit_chain_state WHERE id = 1 FOR UPDATE`); err != nil {
			return fmt.Errorf("lock audit chain head: %w", err)
		}
		return fn(&auditTxStore{tx: tx}, &head)
	})
}

// Head reads the chain state without locking it.
func (r *AuditRepository) Head(ctx context.Context) (*models.AuditChainHead, error) {
	var head models.AuditChainHead
	if err := r.db.GetContext(ctx, &head, `SELECT `+chainHeadColumns+` FROM audit_chain_state WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("load audit chain head: %w", err)
	}
	return &head, nil
}

// FindByID loads an entry by id.
func (r *AuditRepository) FindByID(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	if err := r.db.GetContext(ctx, &entry, `SELECT `+auditColumns+` FROM audit_log_entries WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindBySequence loads the entry at a chain position, returning nil when it is absent.
func (r *AuditRepository) FindBySequence(ctx context.Context, sequence int64) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	if err := r.db.GetContext(ctx, &entry, `SELECT `+auditColumns+` FROM audit_log_entries WHERE sequence = $1`, sequence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find audit entry by sequence: %w", err)
	}
	return &entry, nil
}

// ListRange returns up to limit entries with sequence >= from, in chain order.
func (r *AuditRepository) ListRange(ctx context.Context, from int64, limit int) ([]models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log_entries WHERE sequence >= $1 ORDER BY sequence ASC LIMIT $2`
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, from, limit); err != nil {
		return nil, fmt.Errorf("list audit range: %w", err)
	}
	return entries, nil
}

// List returns a filtered page of entries, newest first, with the total count.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	where, args := auditWhere(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM audit_log_entries%s ORDER BY sequence DESC LIMIT %d OFFSET %d", auditColumns, where, size, offset)
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_log_entries"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}
	return entries, total, nil
}

// ListForExport returns up to limit filtered entries in chain order.
func (r *AuditRepository) ListForExport(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLogEntry, error) {
	where, args := auditWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM audit_log_entries%s ORDER BY sequence ASC LIMIT %d", auditColumns, where, limit)
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list audit entries for export: %w", err)
	}
	return entries, nil
}

func auditWhere(filter models.AuditFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.TargetType != "" {
		add("target_type = $%d", filter.TargetType)
	}
	if filter.From != nil {
		add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("timestamp <= $%d", *filter.To)
	}
	if filter.MinRisk != nil {
		add("risk_score >= $%d", *filter.MinRisk)
	}
	if filter.MaxRisk != nil {
		add("risk_score <= $%d", *filter.MaxRisk)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type auditTxStore struct {
	tx *sqlx.Tx
}

func (s *auditTxStore) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	const query = `INSERT INTO audit_log_entries (` + auditColumns + `)
VALUES (:id, :sequence, :user_id, :action, :target_type, :target_id, :metadata, :risk_score, :ip_address, :user_agent, :timestamp, :integrity_digest)`
	if _, err := sqlx.NamedExecContext(ctx, s.tx, query, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *auditTxStore) AdvanceHead(ctx context.Context, sequence int64, digest string, at time.Time) error {
	const query = `UPDATE audit_chain_state SET last_sequence = $1, last_digest = $2, updated_at = $3 WHERE id = 1`
	if _, err := s.tx.ExecContext(ctx, query, sequence, digest, at); err != nil {
		return fmt.Errorf("advance audit chain head: %w", err)
	}
	return nil
}

// LastExpiredInPrefix returns the newest entry of the contiguous oldest run
// stamped before cutoff, or nil when the oldest entry is already retained.
func (s *auditTxStore) LastExpiredInPrefix(ctx context.Context, cutoff time.Time) (*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log_entries
WHERE sequence < COALESCE((SELECT MIN(sequence) FROM audit_log_entries WHERE timestamp >= $1), 9223372036854775807)
ORDER BY sequence DESC LIMIT 1`
	var entry models.AuditLogEntry
	if err := s.tx.GetContext(ctx, &entry, query, cutoff); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find audit cleanup boundary: %w", err)
	}
	return &entry, nil
}

func (s *auditTxStore) DeleteThrough(ctx context.Context, sequence int64) (int64, error) {
	result, err := s.tx.ExecContext(ctx, `DELETE FROM audit_log_entries WHERE sequence <= $1`, sequence)
	if err != nil {
		return 0, fmt.Errorf("delete audit prefix: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit prefix rows affected: %w", err)
	}
	return deleted, nil
}

func (s *auditTxStore) SetAnchor(ctx context.Context, sequence int64, digest string, at time.Time) error {
	const query = `UPDATE audit_chain_state SET anchor_sequence = $1, anchor_digest = $2, updated_at = $3 WHERE id = 1`
	if _, err := s.tx.ExecContext(ctx, query, sequence, digest, at); err != nil {
		return fmt.Errorf("set audit chain anchor: %w", err)
	}
	return nil
}
