// Command reconcile runs one duplicate-schedule reconciliation pass and exits
// non-zero when any merge failed.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
	"github.com/noah-isme/sma-attendance-api/pkg/database"
	"github.com/noah-isme/sma-attendance-api/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return 1
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Error("failed to connect database", zap.Error(err))
		return 1
	}
	defer db.Close()

	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), nil, logr.Named("audit"), service.AuditServiceConfig{})
	scheduleRepo := repository.NewScheduleRepository(db)
	reconciler := service.NewReconcileService(scheduleRepo, repository.NewReconcileRepository(db), nil, auditSvc, nil, logr.Named("reconcile"))

	report, err := reconciler.Reconcile(ctx, models.SystemCaller())
	if err != nil {
		logr.Error("reconciliation failed", zap.Error(err))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logr.Error("failed to write report", zap.Error(err))
		return 1
	}
	if len(report.Failures) > 0 {
		return 1
	}
	return 0
}
