package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-exam/internal/model"
)

const examColumns = `id, title, subject, instructions, duration_minutes, total_marks, passing_marks,
	start_date, end_date, is_active, max_attempts, author_id, created_at, updated_at`

// ExamRepository handles exam and question data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

func scanExam(row pgx.Row, e *model.Exam) error {
	return row.Scan(&e.ID, &e.Title, &e.Subject, &e.Instructions, &e.DurationMinutes,
		&e.TotalMarks, &e.PassingMarks, &e.StartDate, &e.EndDate, &e.IsActive,
		&e.MaxAttempts, &e.AuthorID, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID retrieves an exam with its questions in authored order.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	row := r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id)
	if err := scanExam(row, e); err != nil {
		return nil, err
	}

	questions, err := r.listQuestions(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	e.Questions = questions
	return e, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *ExamRepository) listQuestions(ctx context.Context, q querier, examID uuid.UUID) ([]model.Question, error) {
	rows, err := q.Query(ctx,
		`SELECT id, exam_id, position, prompt, question_type, options, points, time_limit_seconds
		 FROM questions WHERE exam_id = $1
		 ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var qu model.Question
		if err := rows.Scan(&qu.ID, &qu.ExamID, &qu.Position, &qu.Prompt, &qu.Type,
			&qu.Options, &qu.Points, &qu.TimeLimitSeconds); err != nil {
			return nil, err
		}
		questions = append(questions, qu)
	}
	return questions, rows.Err()
}

// ListActive returns active exams whose window has not ended at now, without questions.
func (r *ExamRepository) ListActive(ctx context.Context, now time.Time) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE is_active = TRUE AND end_date >= $1
		 ORDER BY start_date, title`, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListByAuthorPaginated lists exams without questions, newest first.
// Pass authorID=0 to list every exam.
func (r *ExamRepository) ListByAuthorPaginated(ctx context.Context, authorID, limit, offset int) ([]model.Exam, int, error) {
	where := ""
	args := []any{}
	if authorID > 0 {
		where = ` WHERE author_id = $1`
		args = append(args, authorID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM exams%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		examColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []model.Exam{}
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// Create inserts an exam and its questions in one transaction.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO exams (title, subject, instructions, duration_minutes, total_marks, passing_marks,
		                    start_date, end_date, is_active, max_attempts, author_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Subject, e.Instructions, e.DurationMinutes, e.TotalMarks, e.PassingMarks,
		e.StartDate, e.EndDate, e.IsActive, e.MaxAttempts, e.AuthorID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return err
	}

	if err := insertQuestions(ctx, tx, e.ID, e.Questions); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update writes the scalar fields of an exam.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET title = $1, subject = $2, instructions = $3, duration_minutes = $4,
		     total_marks = $5, passing_marks = $6, start_date = $7, end_date = $8,
		     is_active = $9, max_attempts = $10, updated_at = NOW()
		 WHERE id = $11`,
		e.Title, e.Subject, e.Instructions, e.DurationMinutes, e.TotalMarks, e.PassingMarks,
		e.StartDate, e.EndDate, e.IsActive, e.MaxAttempts, e.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ReplaceQuestions swaps the full question list and the exam's total marks atomically.
func (r *ExamRepository) ReplaceQuestions(ctx context.Context, examID uuid.UUID, totalMarks int, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exams SET total_marks = $1, updated_at = NOW() WHERE id = $2`, totalMarks, examID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1`, examID); err != nil {
		return err
	}
	if err := insertQuestions(ctx, tx, examID, questions); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertQuestions(ctx context.Context, tx pgx.Tx, examID uuid.UUID, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range questions {
		q := &questions[i]
		q.ExamID = examID
		q.Position = i
		batch.Queue(
			`INSERT INTO questions (exam_id, position, prompt, question_type, options, points, time_limit_seconds)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			examID, i, q.Prompt, q.Type, q.Options, q.Points, q.TimeLimitSeconds,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&q.ID)
		})
	}
	return tx.SendBatch(ctx, batch).Close()
}

// Delete removes an exam. Exams referenced by attempts fail with a foreign key violation.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// HasAttempts reports whether any attempt references the exam.
func (r *ExamRepository) HasAttempts(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM attempts WHERE exam_id = $1)`, id,
	).Scan(&exists)
	return exists, err
}
