package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/database"
	"github.com/edutrack/edutrack-backend/internal/lock"
	"github.com/edutrack/edutrack-backend/internal/logger"
	"github.com/edutrack/edutrack-backend/internal/repository"
	"github.com/edutrack/edutrack-backend/internal/service"
	"github.com/edutrack/edutrack-backend/internal/worker"
)

// migrate-legacy moves semesters embedded in student rows into the
// semesters table. It is safe to run repeatedly and while the API serves
// traffic, provided both use the redis lock backend.
func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "Abort the run after this long")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	scale, err := cfg.GradeScale()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid grade scale")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	locker, err := lock.New(cfg.LockBackend, rdb, cfg.LockTTL, cfg.LockWait, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create student locker")
	}

	store := repository.NewStore(pool)
	academicService := service.NewAcademicService(store, locker, scale, worker.NewReconcileQueue(rdb), log).
		WithBatchWorkers(cfg.ReconcileWorkers)
	migrationService := service.NewMigrationService(academicService, store, log)

	report, err := migrationService.MigrateLegacyShape(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Legacy shape migration aborted")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}
