package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-exam/internal/model"
)

// AuthorizeFunc decides, under the quota lock, whether a new attempt may start
// given the number of attempts already started.
type AuthorizeFunc func(priorAttempts int) (*model.SessionDescriptor, error)

// AttemptUsage is one user's attempt usage for one exam.
type AttemptUsage struct {
	Started  int
	ActiveID *uuid.UUID
}

// AttemptRepository handles the AttemptStarted records.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// CreateWithQuota counts the user's started attempts and inserts a new one in a
// single transaction, serialized per (exam, user) by an advisory lock. authorize
// runs inside the lock; its error aborts the insert and is returned unchanged.
func (r *AttemptRepository) CreateWithQuota(ctx context.Context, examID uuid.UUID, userID int, now time.Time, authorize AuthorizeFunc) (*model.Attempt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`,
		examID, userID,
	); err != nil {
		return nil, err
	}

	var prior int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND user_id = $2`,
		examID, userID,
	).Scan(&prior); err != nil {
		return nil, err
	}

	desc, err := authorize(prior)
	if err != nil {
		return nil, err
	}

	a := &model.Attempt{
		ExamID:        examID,
		UserID:        userID,
		AttemptNumber: prior + 1,
		Status:        model.AttemptStatusStarted,
		Snapshot:      desc.Snapshot,
		StartedAt:     now,
		ExpiresAt:     now.Add(time.Duration(desc.DurationSeconds) * time.Second),
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, user_id, attempt_number, status, snapshot, started_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		a.ExamID, a.UserID, a.AttemptNumber, a.Status, a.Snapshot, a.StartedAt, a.ExpiresAt,
	).Scan(&a.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt including its exam snapshot.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, user_id, attempt_number, status, snapshot, started_at, expires_at, submitted_at
		 FROM attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.UserID, &a.AttemptNumber, &a.Status, &a.Snapshot,
		&a.StartedAt, &a.ExpiresAt, &a.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindActive returns the newest STARTED attempt of the user that has not expired at now.
func (r *AttemptRepository) FindActive(ctx context.Context, examID uuid.UUID, userID int, now time.Time) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, user_id, attempt_number, status, snapshot, started_at, expires_at, submitted_at
		 FROM attempts
		 WHERE exam_id = $1 AND user_id = $2 AND status = $3 AND expires_at > $4
		 ORDER BY started_at DESC
		 LIMIT 1`, examID, userID, model.AttemptStatusStarted, now,
	).Scan(&a.ID, &a.ExamID, &a.UserID, &a.AttemptNumber, &a.Status, &a.Snapshot,
		&a.StartedAt, &a.ExpiresAt, &a.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CountStarts returns how many attempts the user has started for the exam.
func (r *AttemptRepository) CountStarts(ctx context.Context, userID int, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id = $1 AND exam_id = $2`,
		userID, examID,
	).Scan(&n)
	return n, err
}

// UsageByUser returns started counts and the active attempt for every exam the user touched.
func (r *AttemptRepository) UsageByUser(ctx context.Context, userID int, now time.Time) (map[uuid.UUID]AttemptUsage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id,
		        COUNT(*),
		        (ARRAY_AGG(id ORDER BY started_at DESC)
		            FILTER (WHERE status = 'STARTED' AND expires_at > $2))[1]
		 FROM attempts
		 WHERE user_id = $1
		 GROUP BY exam_id`, userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[uuid.UUID]AttemptUsage)
	for rows.Next() {
		var (
			examID uuid.UUID
			u      AttemptUsage
		)
		if err := rows.Scan(&examID, &u.Started, &u.ActiveID); err != nil {
			return nil, err
		}
		usage[examID] = u
	}
	return usage, rows.Err()
}

// ListAnswers loads the persisted checkpoints of an attempt into n slots.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID, n int) ([]*int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT slot, selected_option FROM attempt_checkpoints WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make([]*int, n)
	for rows.Next() {
		var (
			slot   int
			option *int
		)
		if err := rows.Scan(&slot, &option); err != nil {
			return nil, err
		}
		if slot >= 0 && slot < n {
			answers[slot] = option
		}
	}
	return answers, rows.Err()
}
