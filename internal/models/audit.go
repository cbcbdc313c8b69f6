package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Audit actions recorded by the attendance core.
const (
	AuditActionScheduleCreated         = "SCHEDULE_CREATED"
	AuditActionScheduleUpdated         = "SCHEDULE_UPDATED"
	AuditActionScheduleMerged          = "SCHEDULE_DUPLICATES_MERGED"
	AuditActionAttendanceRecorded      = "ATTENDANCE_RECORDED"
	AuditActionAttendanceVerified      = "ATTENDANCE_SUPERVISOR_VERIFIED"
	AuditActionSupervisorCheckRecorded = "SUPERVISOR_CHECK_RECORDED"
	AuditActionIntegrityChecked        = "AUDIT_INTEGRITY_CHECKED"
	AuditActionLogExported             = "AUDIT_LOG_EXPORTED"
	AuditActionLogCleanup              = "AUDIT_LOG_CLEANUP"
)

// Audit target types.
const (
	AuditTargetSchedule      = "COURSE_SCHEDULE"
	AuditTargetAttendance    = "ATTENDANCE_RECORD"
	AuditTargetSupervisorLog = "SUPERVISOR_LOG"
	AuditTargetAuditLog      = "AUDIT_LOG"
)

var auditRiskScores = map[string]int{
	AuditActionScheduleCreated:         20,
	AuditActionScheduleUpdated:         30,
	AuditActionScheduleMerged:          60,
	AuditActionAttendanceRecorded:      10,
	AuditActionAttendanceVerified:      30,
	AuditActionSupervisorCheckRecorded: 10,
	AuditActionIntegrityChecked:        40,
	AuditActionLogExported:             50,
	AuditActionLogCleanup:              90,
}

// RiskScoreFor returns the 0-100 risk score assigned to an action; unknown actions score 50.
func RiskScoreFor(action string) int {
	if score, ok := auditRiskScores[action]; ok {
		return score
	}
	return 50
}

// AuditMetadata is free-form entry metadata persisted as JSONB.
type AuditMetadata map[string]interface{}

// Value implements driver.Valuer.
func (m AuditMetadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, fmt.Errorf("encode audit metadata: %w", err)
	}
	return raw, nil
}

// Scan implements sql.Scanner.
func (m *AuditMetadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = AuditMetadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan audit metadata: unsupported type %T", src)
	}
	out := AuditMetadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode audit metadata: %w", err)
	}
	*m = out
	return nil
}

// AuditLogEntry is an immutable, hash-chained record of a privileged action.
type AuditLogEntry struct {
	ID              string        `db:"id" json:"id"`
	Sequence        int64         `db:"sequence" json:"sequence"`
	UserID          string        `db:"user_id" json:"user_id"`
	Action          string        `db:"action" json:"action"`
	TargetType      string        `db:"target_type" json:"target_type"`
	TargetID        *string       `db:"target_id" json:"target_id,omitempty"`
	Metadata        AuditMetadata `db:"metadata" json:"metadata"`
	RiskScore       int           `db:"risk_score" json:"risk_score"`
	IPAddress       *string       `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent       *string       `db:"user_agent" json:"user_agent,omitempty"`
	Timestamp       time.Time     `db:"timestamp" json:"timestamp"`
	IntegrityDigest string        `db:"integrity_digest" json:"integrity_digest"`
}

// AuditEvent describes a privileged action to append to the ledger.
type AuditEvent struct {
	UserID     string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]interface{}
	IPAddress  string
	UserAgent  string
}

// AuditChainHead is the single-row chain state: newest digest plus the anchor left by the last cleanup.
type AuditChainHead struct {
	LastSequence   int64     `db:"last_sequence" json:"last_sequence"`
	LastDigest     string    `db:"last_digest" json:"last_digest"`
	AnchorSequence int64     `db:"anchor_sequence" json:"anchor_sequence"`
	AnchorDigest   string    `db:"anchor_digest" json:"anchor_digest"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// AuditFilter drives listing and export. Zero values are ignored.
type AuditFilter struct {
	UserID     string
	Action     string
	TargetType string
	From       *time.Time
	To         *time.Time
	MinRisk    *int
	MaxRisk    *int
	Page       int
	PageSize   int
}

// AuditVerification is the result of checking one entry against the chain.
type AuditVerification struct {
	EntryID        string    `json:"entry_id"`
	Sequence       int64     `json:"sequence"`
	Valid          bool      `json:"valid"`
	Reason         string    `json:"reason,omitempty"`
	StoredDigest   string    `json:"stored_digest"`
	ExpectedDigest string    `json:"expected_digest"`
	PreviousDigest string    `json:"previous_digest"`
	CheckedAt      time.Time `json:"checked_at"`
}

// AuditChainVerification summarises a walk over retained entries.
type AuditChainVerification struct {
	Checked              int    `json:"checked"`
	Valid                bool   `json:"valid"`
	FirstInvalidSequence *int64 `json:"first_invalid_sequence,omitempty"`
	Reason               string `json:"reason,omitempty"`
	AnchorSequence       int64  `json:"anchor_sequence"`
	LastSequence         int64  `json:"last_sequence"`
}

// AuditCleanupResult reports what a retention cleanup removed.
type AuditCleanupResult struct {
	Deleted        int64     `json:"deleted"`
	RetentionDays  int       `json:"retention_days"`
	Cutoff         time.Time `json:"cutoff"`
	AnchorSequence int64     `json:"anchor_sequence"`
}

// AuditExport is a rendered, downloadable projection of the ledger.
type AuditExport struct {
	Filename    string
	ContentType string
	Payload     []byte
	Count       int
}
