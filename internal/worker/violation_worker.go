package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
)

// ViolationSink persists integrity events.
type ViolationSink interface {
	CopyIntegrityEvents(ctx context.Context, events []model.IntegrityEvent) error
	InsertIntegrityEvent(ctx context.Context, event model.IntegrityEvent) error
}

// ViolationWorker bulk-loads integrity events with COPY.
type ViolationWorker struct {
	b batcher[model.IntegrityEvent]
}

func NewViolationWorker(sink ViolationSink, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{b: batcher[model.IntegrityEvent]{
		queue:  config.WorkerKey.PersistViolationsQueue,
		rdb:    rdb,
		log:    log.With().Str("component", "violation_worker").Logger(),
		bulk:   sink.CopyIntegrityEvents,
		single: sink.InsertIntegrityEvent,
	}}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}
