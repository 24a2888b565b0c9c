package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-exam/internal/model"
)

// StatsDelta is the contribution of a batch of reports to one exam's stats row.
// PercentageSum is a NUMERIC literal.
type StatsDelta struct {
	ExamID        uuid.UUID
	Attempts      int64
	Passed        int64
	ScoreSum      int64
	PercentageSum string
}

// WorkerRepository holds the bulk writes the queue workers flush into.
type WorkerRepository struct {
	pool *pgxpool.Pool
}

// NewWorkerRepository creates a new WorkerRepository.
func NewWorkerRepository(pool *pgxpool.Pool) *WorkerRepository {
	return &WorkerRepository{pool: pool}
}

// ─── Checkpoints ─────────────────────────────────────────────

const upsertCheckpointsSQL = `
	INSERT INTO attempt_checkpoints (attempt_id, slot, selected_option, updated_at)
	SELECT u.attempt_id, u.slot, u.selected_option, u.updated_at
	FROM UNNEST($1::uuid[], $2::int[], $3::int[], $4::timestamptz[])
	     AS u (attempt_id, slot, selected_option, updated_at)
	ON CONFLICT (attempt_id, slot) DO UPDATE
	SET selected_option = EXCLUDED.selected_option,
	    updated_at      = EXCLUDED.updated_at
	WHERE attempt_checkpoints.updated_at <= EXCLUDED.updated_at`

// UpsertCheckpoints writes a batch in one statement. The batch must not hold
// two jobs for the same (attempt, slot). Older writes never overwrite newer ones.
func (r *WorkerRepository) UpsertCheckpoints(ctx context.Context, jobs []model.CheckpointJob) error {
	n := len(jobs)
	attemptIDs := make([]uuid.UUID, n)
	slots := make([]int, n)
	options := make([]*int, n)
	updatedAts := make([]time.Time, n)
	for i, j := range jobs {
		attemptIDs[i] = j.AttemptID
		slots[i] = j.Slot
		options[i] = j.SelectedOption
		updatedAts[i] = j.UpdatedAt
	}

	_, err := r.pool.Exec(ctx, upsertCheckpointsSQL, attemptIDs, slots, options, updatedAts)
	return err
}

// UpsertCheckpoint writes a single job.
func (r *WorkerRepository) UpsertCheckpoint(ctx context.Context, j model.CheckpointJob) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_checkpoints (attempt_id, slot, selected_option, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id, slot) DO UPDATE
		 SET selected_option = EXCLUDED.selected_option,
		     updated_at      = EXCLUDED.updated_at
		 WHERE attempt_checkpoints.updated_at <= EXCLUDED.updated_at`,
		j.AttemptID, j.Slot, j.SelectedOption, j.UpdatedAt,
	)
	return err
}

// ─── Integrity events ────────────────────────────────────────

var integrityColumns = []string{"attempt_id", "exam_id", "user_id", "kind", "payload", "recorded_at"}

// CopyIntegrityEvents bulk-loads events with the COPY protocol.
func (r *WorkerRepository) CopyIntegrityEvents(ctx context.Context, events []model.IntegrityEvent) error {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{
			e.AttemptID, e.ExamID, e.UserID, string(e.Kind), integrityPayload(e), e.RecordedAt,
		})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"integrity_events"},
		integrityColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertIntegrityEvent writes a single event.
func (r *WorkerRepository) InsertIntegrityEvent(ctx context.Context, e model.IntegrityEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO integrity_events (attempt_id, exam_id, user_id, kind, payload, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.AttemptID, e.ExamID, e.UserID, string(e.Kind), integrityPayload(e), e.RecordedAt,
	)
	return err
}

func integrityPayload(e model.IntegrityEvent) map[string]any {
	return map[string]any{"count": e.Count}
}

// ─── Exam stats ──────────────────────────────────────────────

const addExamStatsSQL = `
	INSERT INTO exam_stats (exam_id, attempts, passed, score_sum, percentage_sum, updated_at)
	SELECT u.exam_id, u.attempts, u.passed, u.score_sum, u.percentage_sum::numeric, NOW()
	FROM UNNEST($1::uuid[], $2::bigint[], $3::bigint[], $4::bigint[], $5::text[])
	     AS u (exam_id, attempts, passed, score_sum, percentage_sum)
	ON CONFLICT (exam_id) DO UPDATE
	SET attempts       = exam_stats.attempts + EXCLUDED.attempts,
	    passed         = exam_stats.passed + EXCLUDED.passed,
	    score_sum      = exam_stats.score_sum + EXCLUDED.score_sum,
	    percentage_sum = exam_stats.percentage_sum + EXCLUDED.percentage_sum,
	    updated_at     = NOW()`

// AddExamStats folds per-exam deltas into exam_stats. Each exam may appear once.
func (r *WorkerRepository) AddExamStats(ctx context.Context, deltas []StatsDelta) error {
	n := len(deltas)
	examIDs := make([]uuid.UUID, n)
	attempts := make([]int64, n)
	passed := make([]int64, n)
	scoreSums := make([]int64, n)
	percentageSums := make([]string, n)
	for i, d := range deltas {
		examIDs[i] = d.ExamID
		attempts[i] = d.Attempts
		passed[i] = d.Passed
		scoreSums[i] = d.ScoreSum
		percentageSums[i] = d.PercentageSum
	}

	_, err := r.pool.Exec(ctx, addExamStatsSQL, examIDs, attempts, passed, scoreSums, percentageSums)
	return err
}
