package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-attendance-api/api/swagger"
	"github.com/noah-isme/sma-attendance-api/internal/handler"
	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	"github.com/noah-isme/sma-attendance-api/migrations"
	"github.com/noah-isme/sma-attendance-api/pkg/cache"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
	"github.com/noah-isme/sma-attendance-api/pkg/database"
	"github.com/noah-isme/sma-attendance-api/pkg/jobs"
	"github.com/noah-isme/sma-attendance-api/pkg/logger"
	reqidmiddleware "github.com/noah-isme/sma-attendance-api/pkg/middleware/requestid"
)

// @title Attendance Integrity API
// @version 1.0.0
// @description Scheduling, attendance and audit ledger service
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, db, migrations.Files, logr)
		if err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
		logr.Info("migrations complete", zap.Strings("applied", applied))
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, rate limiting falls back to local buckets", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}
	validate := service.NewValidator()

	scheduleRepo := repository.NewScheduleRepository(db)
	classroomRepo := repository.NewClassroomRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	supervisorRepo := repository.NewSupervisorLogRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	reconcileRepo := repository.NewReconcileRepository(db)
	rateLimitRepo := repository.NewRateLimitRepository(redisClient, "attendance:ratelimit")

	queue := jobs.NewQueue("maintenance", jobs.QueueConfig{
		Workers:    cfg.Maintenance.Workers,
		BufferSize: 16,
		MaxRetries: cfg.Maintenance.Retries,
		RetryDelay: cfg.Maintenance.RetryDelay,
		Logger:     logr.Named("jobs"),
	})

	auditSvc := service.NewAuditService(auditRepo, metricsSvc, logr.Named("audit"), service.AuditServiceConfig{ExportLimit: cfg.Audit.ExportLimit})
	scheduleSvc := service.NewScheduleService(scheduleRepo, classroomRepo, auditSvc, metricsSvc, validate, logr.Named("schedule"))
	attendanceSvc := service.NewAttendanceService(
		attendanceRepo,
		scheduleRepo,
		classroomRepo,
		service.NewGeofenceValidator(cfg.Attendance.GeofenceRadiusMeters),
		auditSvc,
		metricsSvc,
		validate,
		logr.Named("attendance"),
		service.AttendanceServiceConfig{DedupWindow: cfg.Attendance.DedupWindow, MaxFutureSkew: cfg.Attendance.MaxFutureSkew},
	)
	supervisorSvc := service.NewSupervisorService(supervisorRepo, attendanceRepo, scheduleRepo, auditSvc, validate, logr.Named("supervision"))
	reconcileSvc := service.NewReconcileService(scheduleRepo, reconcileRepo, queue, auditSvc, metricsSvc, logr.Named("reconcile"))
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	queue.Register(service.ReconcileJobType, reconcileSvc.HandleJob)
	// Detached from the signal context so Stop can drain in-flight jobs.
	queue.Start(context.Background())

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.AuditContext())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if metricsSvc != nil {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := middleware.NewRateLimiter("attendance", cfg.Attendance.RateLimitPerMinute, rateLimitRepo, logr.Named("ratelimit"))
	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Schedules:   handler.NewScheduleHandler(scheduleSvc),
		Attendance:  handler.NewAttendanceHandler(attendanceSvc, supervisorSvc),
		Supervision: handler.NewSupervisionHandler(supervisorSvc),
		Audit:       handler.NewAuditHandler(auditSvc),
		Maintenance: handler.NewMaintenanceHandler(reconcileSvc),
	}, middleware.JWT(tokenSvc), limiter.Middleware())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	queue.Stop(shutdownCtx)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", "X-Request-ID", "Retry-After"},
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
