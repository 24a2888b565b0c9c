package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/database"
	"github.com/stemsi/exstem-exam/internal/handler"
	"github.com/stemsi/exstem-exam/internal/logger"
	"github.com/stemsi/exstem-exam/internal/router"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/validator"
	"github.com/stemsi/exstem-exam/internal/worker"
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
		Str("storage", cfg.Storage).
		Msg("Starting ExStem Exam")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Stores ───────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("storage", cfg.Storage).Msg("Failed to open stores")
	}
	defer st.close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(st.users, cfg, rdb, log)
	examService := service.NewExamService(st.exams, st.attempts, rdb, log)
	attemptService := service.NewAttemptService(examService, st.attempts, st.reports, rdb, cfg, log)
	reportService := service.NewReportService(st.reports, st.exams, log)
	monitorService := service.NewMonitorService(st.monitor, reportService, rdb)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:      handler.NewAuthHandler(authService, log),
		Exam:      handler.NewExamHandler(examService, attemptService, log),
		Attempt:   handler.NewAttemptHandler(attemptService, log),
		Report:    handler.NewReportHandler(reportService, log),
		StaffExam: handler.NewStaffExamHandler(examService, reportService, log),
		Monitor:   handler.NewMonitorHandler(monitorService, log),
		WS:        handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Health:    handler.NewHealthHandler(st.db, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for _, w := range []interface{ Start(context.Context) }{
		worker.NewCheckpointWorker(st.checkpoints, rdb, log),
		worker.NewViolationWorker(st.violations, rdb, log),
		worker.NewStatsWorker(st.stats, rdb, log),
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(workerCtx)
		}()
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load active exams into Redis before accepting traffic so the first
	// wave of starts does not stampede Postgres.
	if err := examService.PrewarmActive(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, rdb, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop workers; each flushes its buffer before returning.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
