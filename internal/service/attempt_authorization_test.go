package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/scoring"
)

var windowStart = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func authExam() *model.Exam {
	return &model.Exam{
		Title:           "Chemistry quiz",
		DurationMinutes: 30,
		TotalMarks:      2,
		PassingMarks:    1,
		StartDate:       windowStart,
		EndDate:         windowStart.Add(4 * time.Hour),
		IsActive:        true,
		MaxAttempts:     2,
		Questions: []model.Question{
			{Type: model.QuestionTypeTrueFalse, Points: 2, Options: []model.Option{{Text: "true", IsCorrect: true}, {Text: "false"}}},
		},
	}
}

func TestAuthorizeStart(t *testing.T) {
	inWindow := windowStart.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(e *model.Exam)
		prior  int
		now    time.Time
		want   error
	}{
		{name: "eligible", now: inWindow},
		{name: "last attempt", prior: 1, now: inWindow},
		{name: "window start is inclusive", now: windowStart},
		{name: "window end is inclusive", now: windowStart.Add(4 * time.Hour)},
		{name: "inactive", mutate: func(e *model.Exam) { e.IsActive = false }, now: inWindow, want: ErrExamNotActive},
		{name: "inactive wins over window", mutate: func(e *model.Exam) { e.IsActive = false }, now: windowStart.Add(-time.Hour), want: ErrExamNotActive},
		{name: "inactive wins over quota", mutate: func(e *model.Exam) { e.IsActive = false }, prior: 9, now: inWindow, want: ErrExamNotActive},
		{name: "before window", now: windowStart.Add(-time.Second), want: ErrOutOfWindow},
		{name: "after window", now: windowStart.Add(4*time.Hour + time.Second), want: ErrOutOfWindow},
		{name: "quota used inside window", prior: 2, now: inWindow, want: ErrAttemptsExhausted},
		{name: "single attempt used", mutate: func(e *model.Exam) { e.MaxAttempts = 1 }, prior: 1, now: inWindow, want: ErrAttemptsExhausted},
		{name: "no questions", mutate: func(e *model.Exam) { e.Questions = nil }, now: inWindow, want: scoring.ErrMalformedExam},
		{name: "zero-point questions", mutate: func(e *model.Exam) { e.Questions[0].Points = 0 }, now: inWindow, want: scoring.ErrMalformedExam},
		{name: "quota wins over empty exam", mutate: func(e *model.Exam) { e.Questions = nil }, prior: 2, now: inWindow, want: ErrAttemptsExhausted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exam := authExam()
			if tc.mutate != nil {
				tc.mutate(exam)
			}
			desc, err := AuthorizeStart(exam, 7, tc.prior, tc.now, 3)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("err=%v, want %v", err, tc.want)
				}
				if desc != nil {
					t.Fatal("descriptor returned on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if desc.DurationSeconds != 1800 || desc.ViolationThreshold != 3 {
				t.Fatalf("descriptor=%+v", desc)
			}
		})
	}
}

func TestAuthorizeStartSnapshotIsDetached(t *testing.T) {
	exam := authExam()
	desc, err := AuthorizeStart(exam, 1, 0, windowStart, 3)
	if err != nil {
		t.Fatalf("AuthorizeStart: %v", err)
	}

	exam.Questions[0].Options[0].IsCorrect = false
	exam.Questions[0].Points = 50

	snap := desc.Snapshot.Questions[0]
	if !snap.Options[0].IsCorrect || snap.Points != 2 {
		t.Fatalf("snapshot followed a later edit: %+v", snap)
	}
}
