package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/database"
	"github.com/stemsi/exstem-exam/internal/handler"
	"github.com/stemsi/exstem-exam/internal/repository"
	"github.com/stemsi/exstem-exam/internal/repository/memory"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/worker"
)

// stores is the persistence layer the services and workers run on.
type stores struct {
	users    service.UserStore
	exams    service.ExamStore
	attempts service.AttemptStore
	reports  service.ReportStore
	monitor  service.MonitorStore

	checkpoints worker.CheckpointSink
	violations  worker.ViolationSink
	stats       worker.StatsSink

	// db is nil when nothing needs pinging.
	db    handler.Pinger
	close func()
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn().Msg("Using in-memory storage; all data is lost on exit")
		return memoryStores(), nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	workerRepo := repository.NewWorkerRepository(pool)
	return &stores{
		users:       repository.NewUserRepository(pool),
		exams:       repository.NewExamRepository(pool),
		attempts:    repository.NewAttemptRepository(pool),
		reports:     repository.NewReportRepository(pool),
		monitor:     repository.NewMonitorRepository(pool),
		checkpoints: workerRepo,
		violations:  workerRepo,
		stats:       workerRepo,
		db:          pool,
		close:       pool.Close,
	}, nil
}

func memoryStores() *stores {
	attempts := memory.NewAttemptStore()
	reports := memory.NewReportStore(attempts)
	monitor := memory.NewMonitorStore(attempts)
	return &stores{
		users:       memory.NewUserStore(),
		exams:       memory.NewExamStore().WithAttempts(attempts),
		attempts:    attempts,
		reports:     reports,
		monitor:     monitor,
		checkpoints: attempts,
		violations:  monitor,
		stats:       reports,
		close:       func() {},
	}
}
