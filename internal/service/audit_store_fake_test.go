package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
)

// memoryAuditStore mirrors the row-lock contract of the SQL ledger: one
// writer at a time, with staged changes discarded when fn fails.
type memoryAuditStore struct {
	mu      sync.Mutex
	head    models.AuditChainHead
	entries []models.AuditLogEntry
}

func newMemoryAuditStore() *memoryAuditStore {
	return &memoryAuditStore{head: models.AuditChainHead{LastDigest: GenesisDigest, AnchorDigest: GenesisDigest}}
}

type memoryAuditTx struct {
	head    models.AuditChainHead
	entries []models.AuditLogEntry
}

func (m *memoryAuditStore) WithChainLock(ctx context.Context, fn func(store repository.AuditChainStore, head *models.AuditChainHead) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryAuditTx{head: m.head, entries: append([]models.AuditLogEntry(nil), m.entries...)}
	head := tx.head
	if err := fn(tx, &head); err != nil {
		return err
	}
	m.head = tx.head
	m.entries = tx.entries
	return nil
}

func (t *memoryAuditTx) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *memoryAuditTx) AdvanceHead(ctx context.Context, sequence int64, digest string, at time.Time) error {
	t.head.LastSequence = sequence
	t.head.LastDigest = digest
	t.head.UpdatedAt = at
	return nil
}

func (t *memoryAuditTx) LastExpiredInPrefix(ctx context.Context, cutoff time.Time) (*models.AuditLogEntry, error) {
	var last *models.AuditLogEntry
	for i := range t.entries {
		if !t.entries[i].Timestamp.Before(cutoff) {
			break
		}
		last = &t.entries[i]
	}
	if last == nil {
		return nil, nil
	}
	copy := *last
	return &copy, nil
}

func (t *memoryAuditTx) DeleteThrough(ctx context.Context, sequence int64) (int64, error) {
	kept := t.entries[:0:0]
	var deleted int64
	for _, e := range t.entries {
		if e.Sequence <= sequence {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return deleted, nil
}

func (t *memoryAuditTx) SetAnchor(ctx context.Context, sequence int64, digest string, at time.Time) error {
	t.head.AnchorSequence = sequence
	t.head.AnchorDigest = digest
	return nil
}

func (m *memoryAuditStore) Head(ctx context.Context) (*models.AuditChainHead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	head := m.head
	return &head, nil
}

func (m *memoryAuditStore) FindByID(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			copy := e
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryAuditStore) FindBySequence(ctx context.Context, sequence int64) (*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Sequence == sequence {
			copy := e
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *memoryAuditStore) ListRange(ctx context.Context, from int64, limit int) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLogEntry
	for _, e := range m.entries {
		if e.Sequence >= from && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryAuditStore) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	out, _ := m.ListForExport(ctx, filter, len(m.entries)+1)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	return out, len(out), nil
}

func (m *memoryAuditStore) ListForExport(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLogEntry
	for _, e := range m.entries {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.MinRisk != nil && e.RiskScore < *filter.MinRisk {
			continue
		}
		if filter.MaxRisk != nil && e.RiskScore > *filter.MaxRisk {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// tamper rewrites a stored entry in place, bypassing the ledger.
func (m *memoryAuditStore) tamper(sequence int64, fn func(e *models.AuditLogEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Sequence == sequence {
			fn(&m.entries[i])
		}
	}
}

type recordingAuditLogger struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
}

func (r *recordingAuditLogger) Record(ctx context.Context, event models.AuditEvent) (*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.events = append(r.events, event)
	return &models.AuditLogEntry{Action: event.Action}, nil
}

func (r *recordingAuditLogger) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}
