package dto

// AuditCleanupRequest asks for retention cleanup of the audit ledger.
type AuditCleanupRequest struct {
	RetentionDays int `json:"retentionDays" validate:"required,min=30,max=2555"`
}
