package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-exam/internal/model"
)

const reportColumns = `r.id, r.attempt_id, r.user_id, r.exam_id, e.title, r.answers, r.score, r.total_marks,
	r.percentage, r.passed, r.time_taken, r.completed_at, r.attempt_number, r.ip_address,
	r.device_info, r.forced, r.submit_reason, r.violations, r.late`

// ReportRepository handles report data access.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

func scanReport(row pgx.Row, rep *model.Report) error {
	return row.Scan(&rep.ID, &rep.AttemptID, &rep.UserID, &rep.ExamID, &rep.ExamTitle,
		&rep.Answers, &rep.Score, &rep.TotalMarks, &rep.Percentage, &rep.Passed,
		&rep.TimeTaken, &rep.CompletedAt, &rep.AttemptNumber, &rep.IPAddress,
		&rep.DeviceInfo, &rep.Forced, &rep.SubmitReason, &rep.Violations, &rep.Late)
}

// Persist stores the report and closes its attempt in one transaction.
// A second report for the same attempt fails with ErrReportExists.
func (r *ReportRepository) Persist(ctx context.Context, rep *model.Report) (uuid.UUID, error) {
	if rep.AttemptNumber == 0 {
		rep.AttemptNumber = 1
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO reports (attempt_id, user_id, exam_id, answers, score, total_marks, percentage,
		                      passed, time_taken, completed_at, attempt_number, ip_address, device_info,
		                      forced, submit_reason, violations, late)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (attempt_id) DO NOTHING
		 RETURNING id`,
		rep.AttemptID, rep.UserID, rep.ExamID, rep.Answers, rep.Score, rep.TotalMarks, rep.Percentage,
		rep.Passed, rep.TimeTaken, rep.CompletedAt, rep.AttemptNumber, rep.IPAddress, rep.DeviceInfo,
		rep.Forced, rep.SubmitReason, rep.Violations, rep.Late,
	).Scan(&rep.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrReportExists
	}
	if err != nil {
		return uuid.Nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE attempts SET status = $1, submitted_at = $2
		 WHERE id = $3 AND status = $4`,
		model.AttemptStatusSubmitted, rep.CompletedAt, rep.AttemptID, model.AttemptStatusStarted,
	)
	if err != nil {
		return uuid.Nil, err
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, fmt.Errorf("attempt %s is not open", rep.AttemptID)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return rep.ID, nil
}

// GetByID retrieves a report by its UUID.
func (r *ReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	rep := &model.Report{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+reportColumns+`
		 FROM reports r JOIN exams e ON e.id = r.exam_id
		 WHERE r.id = $1`, id)
	if err := scanReport(row, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// GetByAttempt retrieves the report of an attempt.
func (r *ReportRepository) GetByAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Report, error) {
	rep := &model.Report{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+reportColumns+`
		 FROM reports r JOIN exams e ON e.id = r.exam_id
		 WHERE r.attempt_id = $1`, attemptID)
	if err := scanReport(row, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// ListByUser returns the user's reports, newest first, optionally for one exam.
func (r *ReportRepository) ListByUser(ctx context.Context, userID int, examID *uuid.UUID) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + `
		 FROM reports r JOIN exams e ON e.id = r.exam_id
		 WHERE r.user_id = $1`
	args := []any{userID}
	if examID != nil {
		args = append(args, *examID)
		query += ` AND r.exam_id = $2`
	}
	query += ` ORDER BY r.completed_at DESC`

	return r.list(ctx, query, args...)
}

// ListByExam returns one page of an exam's reports, newest first, and the total count.
func (r *ReportRepository) ListByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.Report, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reports WHERE exam_id = $1`, examID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	reports, err := r.list(ctx,
		`SELECT `+reportColumns+`
		 FROM reports r JOIN exams e ON e.id = r.exam_id
		 WHERE r.exam_id = $1
		 ORDER BY r.completed_at DESC
		 LIMIT $2 OFFSET $3`, examID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

func (r *ReportRepository) list(ctx context.Context, query string, args ...any) ([]model.Report, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []model.Report{}
	for rows.Next() {
		var rep model.Report
		if err := scanReport(rows, &rep); err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// Stats reads the aggregated statistics of an exam. An exam without reports
// yields zero values.
func (r *ReportRepository) Stats(ctx context.Context, examID uuid.UUID) (*model.ExamStats, error) {
	s := &model.ExamStats{ExamID: examID}
	err := r.pool.QueryRow(ctx,
		`SELECT attempts, passed,
		        CASE WHEN attempts > 0 THEN score_sum::float8 / attempts ELSE 0 END,
		        CASE WHEN attempts > 0 THEN ROUND(percentage_sum / attempts, 2)::float8 ELSE 0 END,
		        CASE WHEN attempts > 0 THEN ROUND(passed * 100.0 / attempts, 2)::float8 ELSE 0 END,
		        updated_at
		 FROM exam_stats WHERE exam_id = $1`, examID,
	).Scan(&s.Attempts, &s.Passed, &s.AverageScore, &s.AveragePercentage, &s.PassRate, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
