package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LiveAttempt is an in-progress attempt as seen by the monitor.
type LiveAttempt struct {
	AttemptID     uuid.UUID `json:"attempt_id"`
	UserID        int       `json:"user_id"`
	Name          string    `json:"name"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// MonitorRepository provides data access for the live exam monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// LiveAttempts returns the unexpired STARTED attempts of an exam.
func (r *MonitorRepository) LiveAttempts(ctx context.Context, examID uuid.UUID, now time.Time) ([]LiveAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.user_id, u.name, a.attempt_number, a.started_at, a.expires_at
		 FROM attempts a JOIN users u ON u.id = a.user_id
		 WHERE a.exam_id = $1 AND a.status = 'STARTED' AND a.expires_at > $2
		 ORDER BY a.started_at`,
		examID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	live := []LiveAttempt{}
	for rows.Next() {
		var a LiveAttempt
		if err := rows.Scan(&a.AttemptID, &a.UserID, &a.Name, &a.AttemptNumber, &a.StartedAt, &a.ExpiresAt); err != nil {
			return nil, err
		}
		live = append(live, a)
	}
	return live, rows.Err()
}

// AnsweredCounts returns the number of answered slots per attempt of the exam.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT c.attempt_id, COUNT(*)
		 FROM attempt_checkpoints c JOIN attempts a ON a.id = c.attempt_id
		 WHERE a.exam_id = $1 AND a.status = 'STARTED' AND c.selected_option IS NOT NULL
		 GROUP BY c.attempt_id`, examID)
}

// ViolationCounts returns the number of integrity events per attempt of the exam.
func (r *MonitorRepository) ViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT attempt_id, COUNT(*)
		 FROM integrity_events
		 WHERE exam_id = $1
		 GROUP BY attempt_id`, examID)
}

func (r *MonitorRepository) countBy(ctx context.Context, query string, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, query, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID]int64)
	for rows.Next() {
		var (
			id    uuid.UUID
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		result[id] = count
	}
	return result, rows.Err()
}
