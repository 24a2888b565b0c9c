// Package scoring grades a finished attempt against the exam snapshot it was started with.
// It is pure: no clock, no randomness, no I/O.
package scoring

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stemsi/exstem-exam/internal/model"
)

var (
	// ErrIndexOutOfRange means the answer payload refers to an option or slot that does not exist.
	ErrIndexOutOfRange = errors.New("answer index out of range")
	// ErrMalformedExam means the exam has nothing to score against (zero total marks).
	ErrMalformedExam = errors.New("exam has zero total marks")
)

var hundred = decimal.NewFromInt(100)

// Result is the outcome of scoring one answer set.
type Result struct {
	Score      int                  `json:"score"`
	TotalMarks int                  `json:"total_marks"`
	Percentage float64              `json:"percentage"`
	Passed     bool                 `json:"passed"`
	Answers    []model.AnswerResult `json:"answers"`
}

// Score grades answers against exam. answers[i] is the selected option index of
// question i or nil when unanswered; missing trailing slots count as unanswered.
//
// Unanswered slots contribute nothing and are recorded as incorrect. Only
// multiple-choice and true/false questions can earn points. The pass verdict
// compares the exact ratios score/totalMarks and passingMarks/totalMarks, so a
// score below passingMarks never passes. Percentage is that ratio rounded to
// two decimals for storage and display; for very large totalMarks the rounded
// value can meet the threshold while the verdict stays false.
func Score(exam *model.Exam, answers []*int) (*Result, error) {
	if len(answers) > len(exam.Questions) {
		return nil, fmt.Errorf("%w: %d answers for %d questions", ErrIndexOutOfRange, len(answers), len(exam.Questions))
	}

	res := &Result{Answers: make([]model.AnswerResult, len(exam.Questions))}

	for i := range exam.Questions {
		q := &exam.Questions[i]
		res.TotalMarks += q.Points

		if i >= len(answers) || answers[i] == nil {
			continue
		}

		sel := *answers[i]
		if sel < 0 || sel >= len(q.Options) {
			return nil, fmt.Errorf("%w: question %d has %d options, got %d", ErrIndexOutOfRange, i, len(q.Options), sel)
		}

		correct := q.Type.Scored() && q.Options[sel].IsCorrect
		res.Answers[i] = model.AnswerResult{SelectedOption: &sel, IsCorrect: correct}
		if correct {
			res.Score += q.Points
		}
	}

	if res.TotalMarks <= 0 || exam.TotalMarks <= 0 {
		return nil, ErrMalformedExam
	}

	pct := percentOf(res.Score, res.TotalMarks)
	threshold := percentOf(exam.PassingMarks, exam.TotalMarks)

	res.Passed = pct.GreaterThanOrEqual(threshold)
	res.Percentage = pct.Round(2).InexactFloat64()

	return res, nil
}

func percentOf(part, whole int) decimal.Decimal {
	return decimal.NewFromInt(int64(part)).
		Div(decimal.NewFromInt(int64(whole))).
		Mul(hundred)
}
