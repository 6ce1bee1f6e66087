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

// reconcile recomputes CGPA and arrears for one student (-student) or for
// every student, correcting any stale aggregates it finds.
func main() {
	var studentID int
	var timeout time.Duration
	flag.IntVar(&studentID, "student", 0, "Reconcile only this student ID")
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

	academicService := service.NewAcademicService(repository.NewStore(pool), locker, scale, worker.NewReconcileQueue(rdb), log).
		WithBatchWorkers(cfg.ReconcileWorkers)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if studentID > 0 {
		res, err := academicService.ReconcileStudent(ctx, studentID)
		if err != nil {
			log.Fatal().Err(err).Int("student_id", studentID).Msg("Reconcile failed")
		}
		_ = enc.Encode(res)
		return
	}

	summary, err := academicService.ReconcileAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Reconcile run aborted")
	}
	_ = enc.Encode(summary)
	if len(summary.Failed) > 0 {
		os.Exit(1)
	}
}
