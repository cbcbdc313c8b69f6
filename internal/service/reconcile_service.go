package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/jobs"
)

// ReconcileJobType is the job type of a queued reconciliation pass.
const ReconcileJobType = "schedules.reconcile"

type scheduleScanner interface {
	ListInCreationOrder(ctx context.Context) ([]models.CourseSchedule, error)
}

type scheduleMerger interface {
	MergeDuplicate(ctx context.Context, keptID, duplicateID string) (models.ScheduleMerge, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ReconcileService folds duplicate schedule rows into the first one seen under
// the same course, class group, day and start time.
type ReconcileService struct {
	scanner scheduleScanner
	merger  scheduleMerger
	queue   jobEnqueuer
	audit   auditLogger
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconcileService constructs the service. queue may be nil when passes only run synchronously.
func NewReconcileService(scanner scheduleScanner, merger scheduleMerger, queue jobEnqueuer, audit auditLogger, metrics *MetricsService, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileService{
		scanner: scanner,
		merger:  merger,
		queue:   queue,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Reconcile runs one pass. Each duplicate merges in its own transaction; a
// failed merge is reported and the pass moves on.
func (s *ReconcileService) Reconcile(ctx context.Context, caller models.Caller) (*models.ReconcileReport, error) {
	if !caller.Can(models.CanRunMaintenance) {
		return nil, appErrors.ErrForbidden
	}
	report := &models.ReconcileReport{StartedAt: s.now().UTC(), Merges: []models.ScheduleMerge{}}

	schedules, err := s.scanner.ListInCreationOrder(ctx)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to scan schedules")
	}
	report.Scanned = len(schedules)

	kept := make(map[string]string, len(schedules))
	grouped := make(map[string]bool)
	for _, schedule := range schedules {
		key := schedule.DuplicateKey()
		keptID, seen := kept[key]
		if !seen {
			kept[key] = schedule.ID
			continue
		}
		if !grouped[key] {
			grouped[key] = true
			report.DuplicateGroups++
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		merge, err := s.merger.MergeDuplicate(ctx, keptID, schedule.ID)
		s.metrics.RecordReconcileMerge(err == nil)
		if err != nil {
			s.logger.Error("failed to merge duplicate schedule",
				zap.String("kept_id", keptID),
				zap.String("duplicate_id", schedule.ID),
				zap.Error(err),
			)
			report.Failures = append(report.Failures, models.ReconcileFailure{KeptID: keptID, DuplicateID: schedule.ID, Error: err.Error()})
			continue
		}
		report.Merges = append(report.Merges, merge)
		emitAudit(ctx, s.audit, s.logger, models.AuditEvent{
			UserID:     caller.UserID,
			Action:     models.AuditActionScheduleMerged,
			TargetType: models.AuditTargetSchedule,
			TargetID:   keptID,
			Metadata: map[string]interface{}{
				"duplicateId":          merge.DuplicateID,
				"attendanceMoved":      merge.AttendanceMoved,
				"supervisorLogsMoved":  merge.SupervisorLogsMoved,
				"virtualSessionsMoved": merge.VirtualSessionsMoved,
			},
		})
	}

	report.FinishedAt = s.now().UTC()
	s.logger.Info("schedule reconciliation finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("duplicate_groups", report.DuplicateGroups),
		zap.Int("merged", len(report.Merges)),
		zap.Int("failed", len(report.Failures)),
	)
	return report, nil
}

// Enqueue schedules a pass on the worker queue and returns the job id.
func (s *ReconcileService) Enqueue(ctx context.Context, caller models.Caller) (string, error) {
	if !caller.Can(models.CanRunMaintenance) {
		return "", appErrors.ErrForbidden
	}
	if s.queue == nil {
		return "", appErrors.Clone(appErrors.ErrUnavailable, "maintenance queue unavailable")
	}
	job := jobs.Job{ID: uuid.NewString(), Type: ReconcileJobType, Payload: caller.UserID}
	if err := s.queue.Enqueue(job); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to enqueue reconciliation")
	}
	s.logger.Info("schedule reconciliation queued", zap.String("job_id", job.ID), zap.String("requested_by", caller.UserID))
	return job.ID, nil
}

// HandleJob runs a queued pass as the system identity. Only a failed scan is
// returned as an error so the queue retries it; merge failures stay in the report.
func (s *ReconcileService) HandleJob(ctx context.Context, job jobs.Job) error {
	report, err := s.Reconcile(ctx, models.SystemCaller())
	if err != nil {
		return fmt.Errorf("reconcile job %s: %w", job.ID, err)
	}
	if len(report.Failures) > 0 {
		s.logger.Warn("reconcile job finished with failures", zap.String("job_id", job.ID), zap.Int("failed", len(report.Failures)))
	}
	return nil
}
