package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
)

// CheckpointSink persists answer checkpoints.
type CheckpointSink interface {
	UpsertCheckpoints(ctx context.Context, jobs []model.CheckpointJob) error
	UpsertCheckpoint(ctx context.Context, job model.CheckpointJob) error
}

// CheckpointWorker consumes the checkpoint queue and upserts attempt_checkpoints.
type CheckpointWorker struct {
	b batcher[model.CheckpointJob]
}

// NewCheckpointWorker creates a new CheckpointWorker.
func NewCheckpointWorker(sink CheckpointSink, rdb *redis.Client, log zerolog.Logger) *CheckpointWorker {
	return &CheckpointWorker{b: batcher[model.CheckpointJob]{
		queue: config.WorkerKey.PersistCheckpointsQueue,
		rdb:   rdb,
		log:   log.With().Str("component", "checkpoint_worker").Logger(),
		bulk: func(ctx context.Context, batch []model.CheckpointJob) error {
			return sink.UpsertCheckpoints(ctx, latestCheckpoints(batch))
		},
		single: sink.UpsertCheckpoint,
	}}
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *CheckpointWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

type slotKey struct {
	attemptID uuid.UUID
	slot      int
}

// latestCheckpoints keeps the newest job per (attempt, slot), since one
// upsert statement cannot touch the same row twice.
func latestCheckpoints(batch []model.CheckpointJob) []model.CheckpointJob {
	index := make(map[slotKey]int, len(batch))
	out := make([]model.CheckpointJob, 0, len(batch))
	for _, j := range batch {
		k := slotKey{j.AttemptID, j.Slot}
		if i, ok := index[k]; ok {
			if !j.UpdatedAt.Before(out[i].UpdatedAt) {
				out[i] = j
			}
			continue
		}
		index[k] = len(out)
		out = append(out, j)
	}
	return out
}
