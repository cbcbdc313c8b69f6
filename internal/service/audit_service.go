package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/export"
)

// GenesisDigest is the previous digest of the first entry ever appended.
var GenesisDigest = strings.Repeat("0", 64)

const (
	minRetentionDays   = 30
	maxRetentionDays   = 2555
	defaultChainWindow = 1000
	maxChainWindow     = 10000
)

type auditStore interface {
	WithChainLock(ctx context.Context, fn func(store repository.AuditChainStore, head *models.AuditChainHead) error) error
	Head(ctx context.Context) (*models.AuditChainHead, error)
	FindByID(ctx context.Context, id string) (*models.AuditLogEntry, error)
	FindBySequence(ctx context.Context, sequence int64) (*models.AuditLogEntry, error)
	ListRange(ctx context.Context, from int64, limit int) ([]models.AuditLogEntry, error)
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error)
	ListForExport(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLogEntry, error)
}

// auditLogger is the append side of the ledger used by other services.
type auditLogger interface {
	Record(ctx context.Context, event models.AuditEvent) (*models.AuditLogEntry, error)
}

// AuditServiceConfig bounds exports and allows clock injection.
type AuditServiceConfig struct {
	ExportLimit int
	Now         func() time.Time
}

// AuditService is the append-only, hash-chained audit ledger.
type AuditService struct {
	repo    auditStore
	metrics *MetricsService
	logger  *zap.Logger
	cfg     AuditServiceConfig
}

// NewAuditService constructs the ledger.
func NewAuditService(repo auditStore, metrics *MetricsService, logger *zap.Logger, cfg AuditServiceConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExportLimit <= 0 {
		cfg.ExportLimit = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuditService{repo: repo, metrics: metrics, logger: logger, cfg: cfg}
}

type canonicalAuditContent struct {
	Sequence   int64                  `json:"sequence"`
	UserID     string                 `json:"userId"`
	Action     string                 `json:"action"`
	TargetType string                 `json:"targetType"`
	TargetID   *string                `json:"targetId"`
	Metadata   map[string]interface{} `json:"metadata"`
	RiskScore  int                    `json:"riskScore"`
	Timestamp  string                 `json:"timestamp"`
}

// CanonicalContent serialises the hashed fields of an entry. Map keys are
// emitted sorted and the timestamp is UTC at microsecond precision, which is
// what PostgreSQL round-trips.
func CanonicalContent(entry models.AuditLogEntry) ([]byte, error) {
	metadata := map[string]interface{}(entry.Metadata)
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	content := canonicalAuditContent{
		Sequence:   entry.Sequence,
		UserID:     entry.UserID,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Metadata:   metadata,
		RiskScore:  entry.RiskScore,
		Timestamp:  entry.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}
	return json.Marshal(content)
}

// ComputeDigest returns hex(SHA-256(content || previous)).
func ComputeDigest(entry models.AuditLogEntry, previous string) (string, error) {
	content, err := CanonicalContent(entry)
	if err != nil {
		return "", fmt.Errorf("canonical audit content: %w", err)
	}
	sum := sha256.Sum256(append(content, previous...))
	return hex.EncodeToString(sum[:]), nil
}

// normaliseMetadata gives metadata the shape it has after a JSONB round trip.
func normaliseMetadata(in map[string]interface{}) (models.AuditMetadata, error) {
	out := models.AuditMetadata{}
	if len(in) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	auditIDMu      sync.Mutex
	auditIDEntropy = ulid.Monotonic(rand.Reader, 0)
)

// newAuditID returns a ULID for at. Ids minted within the same millisecond
// increase monotonically.
func newAuditID(at time.Time) string {
	auditIDMu.Lock()
	defer auditIDMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), auditIDEntropy)
	if err != nil {
		// Entropy overflow within one millisecond; fall back to a fresh random id.
		return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
	}
	return id.String()
}

// Record appends an event to the chain under the chain head lock.
func (s *AuditService) Record(ctx context.Context, event models.AuditEvent) (*models.AuditLogEntry, error) {
	var entry *models.AuditLogEntry
	err := s.repo.WithChainLock(ctx, func(store repository.AuditChainStore, head *models.AuditChainHead) error {
		var err error
		entry, err = s.appendLocked(ctx, store, head, event)
		return err
	})
	if err != nil {
		return nil, storageError(err, "failed to append audit entry")
	}
	return entry, nil
}

func (s *AuditService) appendLocked(ctx context.Context, store repository.AuditChainStore, head *models.AuditChainHead, event models.AuditEvent) (*models.AuditLogEntry, error) {
	if event.Action == "" || event.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "audit action and user are required")
	}
	metadata, err := normaliseMetadata(event.Metadata)
	if err != nil {
		return nil, fmt.Errorf("normalise audit metadata: %w", err)
	}
	now := s.cfg.Now().UTC().Truncate(time.Microsecond)
	entry := &models.AuditLogEntry{
		ID:         newAuditID(now),
		Sequence:   head.LastSequence + 1,
		UserID:     event.UserID,
		Action:     event.Action,
		TargetType: event.TargetType,
		TargetID:   optionalString(event.TargetID),
		Metadata:   metadata,
		RiskScore:  models.RiskScoreFor(event.Action),
		IPAddress:  optionalString(event.IPAddress),
		UserAgent:  optionalString(event.UserAgent),
		Timestamp:  now,
	}
	digest, err := ComputeDigest(*entry, head.LastDigest)
	if err != nil {
		return nil, err
	}
	entry.IntegrityDigest = digest

	if err := store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	if err := store.AdvanceHead(ctx, entry.Sequence, digest, now); err != nil {
		return nil, err
	}
	head.LastSequence = entry.Sequence
	head.LastDigest = digest
	s.metrics.RecordAuditAppend(entry.Action)
	return entry, nil
}

// predecessorDigest resolves the digest an entry at sequence must chain from.
// An empty digest with a reason means the predecessor cannot be established.
func (s *AuditService) predecessorDigest(ctx context.Context, sequence int64, head *models.AuditChainHead) (string, string, error) {
	prev := sequence - 1
	switch {
	case prev == head.AnchorSequence:
		return head.AnchorDigest, "", nil
	case prev < head.AnchorSequence:
		return "", "entry precedes the retention anchor", nil
	}
	entry, err := s.repo.FindBySequence(ctx, prev)
	if err != nil {
		return "", "", err
	}
	if entry == nil {
		return "", fmt.Sprintf("predecessor %d is missing", prev), nil
	}
	return entry.IntegrityDigest, "", nil
}

// VerifyEntry recomputes one entry's digest against its stored predecessor.
// The outcome, valid or not, is itself appended to the ledger.
func (s *AuditService) VerifyEntry(ctx context.Context, caller models.Caller, entryID string) (*models.AuditVerification, error) {
	if !caller.Can(models.CanVerifyAudit) {
		return nil, appErrors.ErrForbidden
	}
	entry, err := s.repo.FindByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audit entry not found")
		}
		return nil, appErrors.Storage(err, "failed to load audit entry")
	}
	head, err := s.repo.Head(ctx)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load audit chain head")
	}

	previous, reason, err := s.predecessorDigest(ctx, entry.Sequence, head)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load audit predecessor")
	}
	result := &models.AuditVerification{
		EntryID:        entry.ID,
		Sequence:       entry.Sequence,
		StoredDigest:   entry.IntegrityDigest,
		PreviousDigest: previous,
		CheckedAt:      s.cfg.Now().UTC(),
	}
	if reason == "" {
		expected, err := ComputeDigest(*entry, previous)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute audit digest")
		}
		result.ExpectedDigest = expected
		result.Valid = expected == entry.IntegrityDigest
		if !result.Valid {
			reason = "digest mismatch"
		}
	}
	result.Reason = reason

	if !result.Valid {
		s.metrics.RecordIntegrityFailure()
		s.logger.Error("audit integrity violation",
			zap.String("entry_id", entry.ID),
			zap.Int64("sequence", entry.Sequence),
			zap.String("reason", reason),
		)
	}

	metadata := map[string]interface{}{
		"entryId":  entry.ID,
		"sequence": entry.Sequence,
		"valid":    result.Valid,
	}
	if reason != "" {
		metadata["reason"] = reason
	}
	if _, err := s.Record(ctx, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionIntegrityChecked,
		TargetType: models.AuditTargetAuditLog,
		TargetID:   entry.ID,
		Metadata:   metadata,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyChain walks up to limit retained entries from fromSequence and
// reports the first break. Starting before the anchor starts at the anchor.
func (s *AuditService) VerifyChain(ctx context.Context, caller models.Caller, fromSequence int64, limit int) (*models.AuditChainVerification, error) {
	if !caller.Can(models.CanVerifyAudit) {
		return nil, appErrors.ErrForbidden
	}
	if limit <= 0 {
		limit = defaultChainWindow
	}
	if limit > maxChainWindow {
		limit = maxChainWindow
	}
	head, err := s.repo.Head(ctx)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load audit chain head")
	}
	if fromSequence <= head.AnchorSequence {
		fromSequence = head.AnchorSequence + 1
	}

	entries, err := s.repo.ListRange(ctx, fromSequence, limit)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load audit entries")
	}
	result := &models.AuditChainVerification{
		Valid:          true,
		AnchorSequence: head.AnchorSequence,
		LastSequence:   head.LastSequence,
	}
	fail := func(sequence int64, reason string) {
		result.Valid = false
		seq := sequence
		result.FirstInvalidSequence = &seq
		result.Reason = reason
	}

	if len(entries) > 0 {
		previous, reason, err := s.predecessorDigest(ctx, entries[0].Sequence, head)
		if err != nil {
			return nil, appErrors.Storage(err, "failed to load audit predecessor")
		}
		if reason != "" {
			fail(entries[0].Sequence, reason)
		}
		expectedSeq := entries[0].Sequence
		for _, entry := range entries {
			if !result.Valid {
				break
			}
			result.Checked++
			if entry.Sequence != expectedSeq {
				fail(expectedSeq, fmt.Sprintf("sequence gap before %d", entry.Sequence))
				break
			}
			digest, err := ComputeDigest(entry, previous)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute audit digest")
			}
			if digest != entry.IntegrityDigest {
				fail(entry.Sequence, "digest mismatch")
				break
			}
			previous = entry.IntegrityDigest
			expectedSeq++
		}
		last := entries[len(entries)-1]
		if result.Valid && last.Sequence == head.LastSequence && last.IntegrityDigest != head.LastDigest {
			fail(last.Sequence, "chain head digest does not match newest entry")
		}
	} else if fromSequence <= head.LastSequence {
		fail(fromSequence, "retained entries are missing")
	}

	if !result.Valid {
		s.metrics.RecordIntegrityFailure()
		s.logger.Error("audit chain integrity violation",
			zap.Int64("sequence", *result.FirstInvalidSequence),
			zap.String("reason", result.Reason),
		)
	}

	metadata := map[string]interface{}{
		"scope":        "chain",
		"fromSequence": fromSequence,
		"checked":      result.Checked,
		"valid":        result.Valid,
	}
	if !result.Valid {
		metadata["firstInvalidSequence"] = *result.FirstInvalidSequence
		metadata["reason"] = result.Reason
	}
	if _, err := s.Record(ctx, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionIntegrityChecked,
		TargetType: models.AuditTargetAuditLog,
		Metadata:   metadata,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Cleanup deletes the contiguous oldest run of entries older than the
// retention horizon and records the last deleted digest as the chain anchor,
// so the first retained entry still verifies. The cleanup entry is appended
// under the same lock.
func (s *AuditService) Cleanup(ctx context.Context, caller models.Caller, retentionDays int) (*models.AuditCleanupResult, error) {
	if !caller.Can(models.CanCleanupAudit) {
		return nil, appErrors.ErrForbidden
	}
	if retentionDays < minRetentionDays || retentionDays > maxRetentionDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("retention days must be between %d and %d", minRetentionDays, maxRetentionDays))
	}
	now := s.cfg.Now().UTC()
	result := &models.AuditCleanupResult{
		RetentionDays: retentionDays,
		Cutoff:        now.AddDate(0, 0, -retentionDays),
	}

	err := s.repo.WithChainLock(ctx, func(store repository.AuditChainStore, head *models.AuditChainHead) error {
		result.AnchorSequence = head.AnchorSequence
		last, err := store.LastExpiredInPrefix(ctx, result.Cutoff)
		if err != nil {
			return err
		}
		if last != nil {
			if result.Deleted, err = store.DeleteThrough(ctx, last.Sequence); err != nil {
				return err
			}
			if err := store.SetAnchor(ctx, last.Sequence, last.IntegrityDigest, now); err != nil {
				return err
			}
			head.AnchorSequence = last.Sequence
			head.AnchorDigest = last.IntegrityDigest
			result.AnchorSequence = last.Sequence
		}
		_, err = s.appendLocked(ctx, store, head, models.AuditEvent{
			UserID:     caller.UserID,
			Action:     models.AuditActionLogCleanup,
			TargetType: models.AuditTargetAuditLog,
			Metadata: map[string]interface{}{
				"retentionDays":  retentionDays,
				"deleted":        result.Deleted,
				"anchorSequence": result.AnchorSequence,
			},
		})
		return err
	})
	if err != nil {
		return nil, storageError(err, "failed to clean up audit log")
	}
	s.logger.Info("audit log cleanup",
		zap.Int("retention_days", retentionDays),
		zap.Int64("deleted", result.Deleted),
		zap.Int64("anchor_sequence", result.AnchorSequence),
	)
	return result, nil
}

// List returns a filtered page of the ledger.
func (s *AuditService) List(ctx context.Context, caller models.Caller, filter models.AuditFilter) ([]models.AuditLogEntry, *models.Pagination, error) {
	if !caller.Can(models.CanExportAudit) && !caller.Can(models.CanVerifyAudit) {
		return nil, nil, appErrors.ErrForbidden
	}
	if err := validateAuditFilter(filter); err != nil {
		return nil, nil, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "failed to list audit entries")
	}
	return entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

var auditExportHeaders = []string{"sequence", "id", "timestamp", "user_id", "action", "target_type", "target_id", "risk_score", "ip_address", "metadata", "integrity_digest"}

// Export renders a filtered read-only projection of the ledger.
func (s *AuditService) Export(ctx context.Context, caller models.Caller, filter models.AuditFilter, rawFormat string) (*models.AuditExport, error) {
	if !caller.Can(models.CanExportAudit) {
		return nil, appErrors.ErrForbidden
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := validateAuditFilter(filter); err != nil {
		return nil, err
	}

	entries, err := s.repo.ListForExport(ctx, filter, s.cfg.ExportLimit)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load audit entries for export")
	}

	dataset := export.Dataset{Title: "Audit Log", Headers: auditExportHeaders}
	for i := range entries {
		row, err := auditExportRow(entries[i])
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode audit entry")
		}
		dataset.Rows = append(dataset.Rows, row)
		dataset.Records = append(dataset.Records, entries[i])
	}
	payload, err := export.RendererFor(format).Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export")
	}

	now := s.cfg.Now().UTC()
	result := &models.AuditExport{
		Filename:    fmt.Sprintf("audit-log-%s.%s", now.Format("2006-01-02"), format.Extension()),
		ContentType: format.ContentType(),
		Payload:     payload,
		Count:       len(entries),
	}

	if _, err := s.Record(ctx, models.AuditEvent{
		UserID:     caller.UserID,
		Action:     models.AuditActionLogExported,
		TargetType: models.AuditTargetAuditLog,
		Metadata:   exportMetadata(filter, format, len(entries)),
	}); err != nil {
		s.logger.Warn("failed to record audit export", zap.Error(err))
	}
	return result, nil
}

func auditExportRow(entry models.AuditLogEntry) (map[string]string, error) {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"sequence":         strconv.FormatInt(entry.Sequence, 10),
		"id":               entry.ID,
		"timestamp":        entry.Timestamp.UTC().Format(time.RFC3339),
		"user_id":          entry.UserID,
		"action":           entry.Action,
		"target_type":      entry.TargetType,
		"target_id":        derefString(entry.TargetID),
		"risk_score":       strconv.Itoa(entry.RiskScore),
		"ip_address":       derefString(entry.IPAddress),
		"metadata":         string(metadata),
		"integrity_digest": entry.IntegrityDigest,
	}, nil
}

func exportMetadata(filter models.AuditFilter, format export.Format, count int) map[string]interface{} {
	meta := map[string]interface{}{"format": string(format), "count": count}
	if filter.UserID != "" {
		meta["userId"] = filter.UserID
	}
	if filter.Action != "" {
		meta["action"] = filter.Action
	}
	if filter.TargetType != "" {
		meta["targetType"] = filter.TargetType
	}
	if filter.From != nil {
		meta["from"] = filter.From.UTC().Format(time.RFC3339)
	}
	if filter.To != nil {
		meta["to"] = filter.To.UTC().Format(time.RFC3339)
	}
	if filter.MinRisk != nil {
		meta["minRisk"] = *filter.MinRisk
	}
	if filter.MaxRisk != nil {
		meta["maxRisk"] = *filter.MaxRisk
	}
	return meta
}

func validateAuditFilter(filter models.AuditFilter) error {
	inRange := func(v *int) bool { return v == nil || (*v >= 0 && *v <= 100) }
	if !inRange(filter.MinRisk) || !inRange(filter.MaxRisk) {
		return appErrors.Clone(appErrors.ErrValidation, "risk score filters must be between 0 and 100")
	}
	if filter.MinRisk != nil && filter.MaxRisk != nil && *filter.MinRisk > *filter.MaxRisk {
		return appErrors.Clone(appErrors.ErrValidation, "min risk must not exceed max risk")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	return nil
}

// storageError keeps typed errors raised inside a transaction and classifies the rest.
func storageError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Storage(err, message)
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
