package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Exam is a question set with a scoring policy and an availability window.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	Instructions    string     `json:"instructions"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      int        `json:"total_marks"`
	PassingMarks    int        `json:"passing_marks"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         time.Time  `json:"end_date"`
	IsActive        bool       `json:"is_active"`
	MaxAttempts     int        `json:"max_attempts"`
	AuthorID        int        `json:"author_id"`
	Questions       []Question `json:"questions,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DurationSeconds is the attempt time budget.
func (e *Exam) DurationSeconds() int {
	return e.DurationMinutes * 60
}

// QuestionPoints sums the points of all questions.
func (e *Exam) QuestionPoints() int {
	sum := 0
	for _, q := range e.Questions {
		sum += q.Points
	}
	return sum
}

// Validate checks the authoring invariants and returns field -> message,
// or nil when the exam is consistent.
func (e *Exam) Validate() map[string]string {
	fields := make(map[string]string)

	if e.TotalMarks <= 0 {
		fields["total_marks"] = "total_marks must be greater than 0"
	}
	if e.PassingMarks < 0 || e.PassingMarks > e.TotalMarks {
		fields["passing_marks"] = "passing_marks must be between 0 and total_marks"
	}
	if !e.EndDate.After(e.StartDate) {
		fields["end_date"] = "end_date must be after start_date"
	}
	if e.MaxAttempts < 1 {
		fields["max_attempts"] = "max_attempts must be at least 1"
	}

	if len(e.Questions) > 0 {
		for i, q := range e.Questions {
			key := fmt.Sprintf("questions[%d]", i)
			if q.Points <= 0 {
				fields[key+".points"] = "points must be a positive integer"
			}
			if !q.Type.Scored() {
				continue
			}
			if len(q.Options) < 2 {
				fields[key+".options"] = "at least two options are required"
			} else if !q.HasCorrectOption() {
				fields[key+".options"] = "at least one option must be marked correct"
			}
		}
		if sum := e.QuestionPoints(); sum != e.TotalMarks {
			fields["total_marks"] = fmt.Sprintf("total_marks (%d) must equal the sum of question points (%d)", e.TotalMarks, sum)
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Paper returns the student-facing copy of the exam: no correctness flags.
func (e *Exam) Paper() ExamPaper {
	questions := make([]QuestionForStudent, len(e.Questions))
	for i := range e.Questions {
		questions[i] = e.Questions[i].ForStudent()
	}
	return ExamPaper{
		ExamID:          e.ID,
		Title:           e.Title,
		Subject:         e.Subject,
		Instructions:    e.Instructions,
		DurationMinutes: e.DurationMinutes,
		TotalMarks:      e.TotalMarks,
		PassingMarks:    e.PassingMarks,
		Questions:       questions,
	}
}

// Summary returns a copy without questions, for listings.
func (e *Exam) Summary() Exam {
	s := *e
	s.Questions = nil
	return s
}

// ExamPaper is the redacted exam snapshot handed to a client.
type ExamPaper struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	Title           string               `json:"title"`
	Subject         string               `json:"subject"`
	Instructions    string               `json:"instructions"`
	DurationMinutes int                  `json:"duration_minutes"`
	TotalMarks      int                  `json:"total_marks"`
	PassingMarks    int                  `json:"passing_marks"`
	Questions       []QuestionForStudent `json:"questions"`
}

// LobbyExam is an exam as listed to a student, with their attempt usage.
type LobbyExam struct {
	Exam
	AttemptsUsed      int        `json:"attempts_used"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	ActiveAttemptID   *uuid.UUID `json:"active_attempt_id,omitempty"`
	Upcoming          bool       `json:"upcoming"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string          `json:"title" binding:"required,notblank,min=3,max=255"`
	Subject         string          `json:"subject" binding:"required,min=2,max=100"`
	Instructions    string          `json:"instructions" binding:"omitempty,max=8000"`
	DurationMinutes int             `json:"duration_minutes" binding:"required,min=1,max=480"`
	TotalMarks      int             `json:"total_marks" binding:"required,min=1"`
	PassingMarks    int             `json:"passing_marks" binding:"min=0,ltefield=TotalMarks"`
	StartDate       time.Time       `json:"start_date" binding:"required"`
	EndDate         time.Time       `json:"end_date" binding:"required,gtfield=StartDate"`
	IsActive        *bool           `json:"is_active"`
	MaxAttempts     int             `json:"max_attempts" binding:"omitempty,min=1,max=100"`
	Questions       []QuestionInput `json:"questions" binding:"omitempty,dive"`
}

// ToExam builds the exam entity for authorID.
func (r *CreateExamRequest) ToExam(authorID int) *Exam {
	exam := &Exam{
		Title:           r.Title,
		Subject:         r.Subject,
		Instructions:    r.Instructions,
		DurationMinutes: r.DurationMinutes,
		TotalMarks:      r.TotalMarks,
		PassingMarks:    r.PassingMarks,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		IsActive:        true,
		MaxAttempts:     r.MaxAttempts,
		AuthorID:        authorID,
	}
	if r.IsActive != nil {
		exam.IsActive = *r.IsActive
	}
	if exam.MaxAttempts == 0 {
		exam.MaxAttempts = 1
	}
	for i := range r.Questions {
		exam.Questions = append(exam.Questions, r.Questions[i].ToQuestion(i))
	}
	return exam
}

// UpdateExamRequest is the payload for updating an existing exam. Zero values keep the stored value.
type UpdateExamRequest struct {
	Title           string     `json:"title" binding:"omitempty,min=3,max=255"`
	Subject         string     `json:"subject" binding:"omitempty,min=2,max=100"`
	Instructions    *string    `json:"instructions" binding:"omitempty,max=8000"`
	DurationMinutes int        `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	TotalMarks      int        `json:"total_marks" binding:"omitempty,min=1"`
	PassingMarks    *int       `json:"passing_marks" binding:"omitempty,min=0"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	IsActive        *bool      `json:"is_active"`
	MaxAttempts     int        `json:"max_attempts" binding:"omitempty,min=1,max=100"`
}

// Apply merges the request onto a copy of e.
func (r *UpdateExamRequest) Apply(e Exam) Exam {
	if r.Title != "" {
		e.Title = r.Title
	}
	if r.Subject != "" {
		e.Subject = r.Subject
	}
	if r.Instructions != nil {
		e.Instructions = *r.Instructions
	}
	if r.DurationMinutes != 0 {
		e.DurationMinutes = r.DurationMinutes
	}
	if r.TotalMarks != 0 {
		e.TotalMarks = r.TotalMarks
	}
	if r.PassingMarks != nil {
		e.PassingMarks = *r.PassingMarks
	}
	if r.StartDate != nil {
		e.StartDate = *r.StartDate
	}
	if r.EndDate != nil {
		e.EndDate = *r.EndDate
	}
	if r.IsActive != nil {
		e.IsActive = *r.IsActive
	}
	if r.MaxAttempts != 0 {
		e.MaxAttempts = r.MaxAttempts
	}
	return e
}
