package service

import (
	"time"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/scoring"
)

// AuthorizeStart decides whether userID may begin a new attempt at exam.
// priorAttempts is the number of attempts the user has already started.
// Checks run in a fixed order: active flag, time window, attempt quota.
// An exam with nothing to score is refused last, before any quota is spent.
//
// The descriptor keeps the full exam as the snapshot; callers must only send
// its Paper() to clients.
func AuthorizeStart(exam *model.Exam, userID int, priorAttempts int, now time.Time, violationThreshold int) (*model.SessionDescriptor, error) {
	if !exam.IsActive {
		return nil, ErrExamNotActive
	}
	if now.Before(exam.StartDate) || now.After(exam.EndDate) {
		return nil, ErrOutOfWindow
	}
	if priorAttempts >= exam.MaxAttempts {
		return nil, ErrAttemptsExhausted
	}
	if len(exam.Questions) == 0 || exam.QuestionPoints() <= 0 || exam.TotalMarks <= 0 {
		return nil, scoring.ErrMalformedExam
	}

	snapshot := *exam
	snapshot.Questions = make([]model.Question, len(exam.Questions))
	for i, q := range exam.Questions {
		q.Options = append([]model.Option(nil), q.Options...)
		snapshot.Questions[i] = q
	}

	return &model.SessionDescriptor{
		Snapshot:           &snapshot,
		DurationSeconds:    exam.DurationSeconds(),
		ViolationThreshold: violationThreshold,
	}, nil
}
