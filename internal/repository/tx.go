package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// runInTx executes fn inside a transaction, rolling back when fn or the commit fails.
func runInTx(ctx context.Context, db *sqlx.DB, name string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// LockID maps a lock key onto the bigint advisory lock space.
func LockID(key string) int64 {
	return int64(xxhash.Sum64String(key))
}

// lockKeys takes transaction-scoped advisory locks on every key. Ordering and
// deduplication use the lock id itself, so keys whose ids collide share one
// lock and every caller acquires locks in the same global order.
func lockKeys(ctx context.Context, tx *sqlx.Tx, keys []string) error {
	seen := make(map[int64]string, len(keys))
	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		id := LockID(key)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = key
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, id); err != nil {
			return fmt.Errorf("advisory lock %s: %w", seen[id], err)
		}
	}
	return nil
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

// IsForeignKeyViolation reports whether err references a missing row.
func IsForeignKeyViolation(err error) bool {
	return pqCode(err) == pqForeignKeyViolation
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
