package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
)

// The store interfaces below are satisfied by the pgx repositories.

// ExamStore persists exams and their questions.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListActive(ctx context.Context, now time.Time) ([]model.Exam, error)
	ListByAuthorPaginated(ctx context.Context, authorID, limit, offset int) ([]model.Exam, int, error)
	Create(ctx context.Context, e *model.Exam) error
	Update(ctx context.Context, e *model.Exam) error
	ReplaceQuestions(ctx context.Context, examID uuid.UUID, totalMarks int, questions []model.Question) error
	Delete(ctx context.Context, id uuid.UUID) error
	HasAttempts(ctx context.Context, id uuid.UUID) (bool, error)
}

// AttemptStore persists AttemptStarted records and checkpoints.
type AttemptStore interface {
	CreateWithQuota(ctx context.Context, examID uuid.UUID, userID int, now time.Time, authorize repository.AuthorizeFunc) (*model.Attempt, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindActive(ctx context.Context, examID uuid.UUID, userID int, now time.Time) (*model.Attempt, error)
	CountStarts(ctx context.Context, userID int, examID uuid.UUID) (int, error)
	UsageByUser(ctx context.Context, userID int, now time.Time) (map[uuid.UUID]repository.AttemptUsage, error)
	ListAnswers(ctx context.Context, attemptID uuid.UUID, n int) ([]*int, error)
}

// ReportStore persists reports.
type ReportStore interface {
	Persist(ctx context.Context, rep *model.Report) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error)
	GetByAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Report, error)
	ListByUser(ctx context.Context, userID int, examID *uuid.UUID) ([]model.Report, error)
	ListByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.Report, int, error)
	Stats(ctx context.Context, examID uuid.UUID) (*model.ExamStats, error)
}

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id int) (*model.User, error)
}

// ExamReader is the catalog read used by the attempt lifecycle.
type ExamReader interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID int
	Role   model.Role
}

// CanManage reports whether the actor may mutate or inspect the exam as staff.
func (a Actor) CanManage(e *model.Exam) bool {
	return a.Role == model.RoleAdmin || (a.Role == model.RoleTeacher && e.AuthorID == a.UserID)
}
