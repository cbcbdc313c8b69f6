package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

type requestMetaKey struct{}

type requestMeta struct {
	ip        string
	userAgent string
}

// WithRequestMeta attaches the client address and user agent recorded on audit entries.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, requestMeta{ip: ip, userAgent: userAgent})
}

// emitAudit appends an event after the audited write has committed. Failures
// are logged and never undo the write.
func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, event models.AuditEvent) {
	if audit == nil {
		return
	}
	if meta, ok := ctx.Value(requestMetaKey{}).(requestMeta); ok {
		if event.IPAddress == "" {
			event.IPAddress = meta.ip
		}
		if event.UserAgent == "" {
			event.UserAgent = meta.userAgent
		}
	}
	if _, err := audit.Record(ctx, event); err != nil {
		logger.Warn("failed to record audit log",
			zap.String("action", event.Action),
			zap.String("target_id", event.TargetID),
			zap.Error(err),
		)
	}
}
