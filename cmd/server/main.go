package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/database"
	"github.com/edutrack/edutrack-backend/internal/handler"
	"github.com/edutrack/edutrack-backend/internal/lock"
	"github.com/edutrack/edutrack-backend/internal/logger"
	"github.com/edutrack/edutrack-backend/internal/middleware"
	"github.com/edutrack/edutrack-backend/internal/repository"
	"github.com/edutrack/edutrack-backend/internal/router"
	"github.com/edutrack/edutrack-backend/internal/service"
	"github.com/edutrack/edutrack-backend/internal/validator"
	"github.com/edutrack/edutrack-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("lock_backend", cfg.LockBackend).
		Msg("Starting EduTrack Backend")

	// ─── Grade Scale & Validator ───────────────────────────────────────
	scale, err := cfg.GradeScale()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid grade scale")
	}
	if err := validator.Setup(scale); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up validator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Services ──────────────────────────────────────────
	locker, err := lock.New(cfg.LockBackend, rdb, cfg.LockTTL, cfg.LockWait, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create student locker")
	}
	reconcileQueue := worker.NewReconcileQueue(rdb)

	store := repository.NewStore(pool)
	authService := service.NewAuthService(cfg)
	academicService := service.NewAcademicService(store, locker, scale, reconcileQueue, log).
		WithBatchWorkers(cfg.ReconcileWorkers)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Student:  handler.NewStudentHandler(academicService, log),
		Semester: handler.NewSemesterHandler(academicService, log),
		System: handler.NewSystemHandler(map[string]handler.Pinger{
			"postgres": pool,
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		}, reconcileQueue, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	reconcileWorker := worker.NewReconcileWorker(reconcileQueue, academicService, log)
	go func() {
		reconcileWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, router.Options{
		Log:              log,
		ReconcileLimiter: middleware.NewRateLimiter(rdb, "reconcile_all", 6, time.Minute, log),
	})

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (10s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the reconcile worker; it requeues whatever it had popped.
	workerCancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Reconcile worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
