// Command migrate applies pending schema migrations.
package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/migrations"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
	"github.com/noah-isme/sma-attendance-api/pkg/database"
	"github.com/noah-isme/sma-attendance-api/pkg/logger"
)

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

	ctx := context.Background()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db, migrations.Files, logr)
	if err != nil {
		logr.Error("migration failed; if a schedule uniqueness index was rejected, run cmd/reconcile and retry", zap.Error(err))
		os.Exit(1)
	}
	logr.Info("migrations complete", zap.Strings("applied", applied))
}
