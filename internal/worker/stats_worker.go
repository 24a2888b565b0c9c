package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
)

// StatsSink folds report deltas into the per-exam aggregate.
type StatsSink interface {
	AddExamStats(ctx context.Context, deltas []repository.StatsDelta) error
}

// StatsWorker keeps exam_stats current from the stats queue.
type StatsWorker struct {
	b batcher[model.StatsJob]
}

func NewStatsWorker(sink StatsSink, rdb *redis.Client, log zerolog.Logger) *StatsWorker {
	return &StatsWorker{b: batcher[model.StatsJob]{
		queue: config.WorkerKey.ExamStatsQueue,
		rdb:   rdb,
		log:   log.With().Str("component", "stats_worker").Logger(),
		bulk: func(ctx context.Context, batch []model.StatsJob) error {
			return sink.AddExamStats(ctx, foldStats(batch))
		},
		single: func(ctx context.Context, job model.StatsJob) error {
			return sink.AddExamStats(ctx, foldStats([]model.StatsJob{job}))
		},
	}}
}

func (w *StatsWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

// foldStats sums a batch into one delta per exam, in first-seen order.
func foldStats(batch []model.StatsJob) []repository.StatsDelta {
	type acc struct {
		delta repository.StatsDelta
		pct   decimal.Decimal
	}
	index := make(map[uuid.UUID]int, len(batch))
	accs := make([]acc, 0, len(batch))
	for _, j := range batch {
		i, ok := index[j.ExamID]
		if !ok {
			i = len(accs)
			index[j.ExamID] = i
			accs = append(accs, acc{delta: repository.StatsDelta{ExamID: j.ExamID}})
		}
		a := &accs[i]
		a.delta.Attempts++
		if j.Passed {
			a.delta.Passed++
		}
		a.delta.ScoreSum += int64(j.Score)
		a.pct = a.pct.Add(decimal.NewFromFloat(j.Percentage))
	}

	out := make([]repository.StatsDelta, len(accs))
	for i, a := range accs {
		a.delta.PercentageSum = a.pct.StringFixed(2)
		out[i] = a.delta
	}
	return out
}
