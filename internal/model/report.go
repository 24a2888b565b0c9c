package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerResult is one graded answer slot.
type AnswerResult struct {
	SelectedOption *int `json:"selected_option"`
	IsCorrect      bool `json:"is_correct"`
}

// Report is the immutable record of a completed attempt.
type Report struct {
	ID            uuid.UUID      `json:"id"`
	AttemptID     uuid.UUID      `json:"attempt_id"`
	UserID        int            `json:"user_id"`
	ExamID        uuid.UUID      `json:"exam_id"`
	ExamTitle     string         `json:"exam_title,omitempty"`
	Answers       []AnswerResult `json:"answers"`
	Score         int            `json:"score"`
	TotalMarks    int            `json:"total_marks"`
	Percentage    float64        `json:"percentage"`
	Passed        bool           `json:"passed"`
	TimeTaken     int            `json:"time_taken"`
	CompletedAt   time.Time      `json:"completed_at"`
	AttemptNumber int            `json:"attempt_number"`
	IPAddress     string         `json:"ip_address"`
	DeviceInfo    string         `json:"device_info"`
	Forced        bool           `json:"forced"`
	SubmitReason  SubmitReason   `json:"submit_reason"`
	Violations    int            `json:"violations"`
	Late          bool           `json:"late"`
}

// SubmitResult is returned to the client after a submission.
type SubmitResult struct {
	ReportID      uuid.UUID `json:"report_id"`
	Score         int       `json:"score"`
	TotalMarks    int       `json:"total_marks"`
	Percentage    float64   `json:"percentage"`
	Passed        bool      `json:"passed"`
	AttemptNumber int       `json:"attempt_number"`
}

// Result projects a report to the submit response.
func (r *Report) Result() *SubmitResult {
	return &SubmitResult{
		ReportID:      r.ID,
		Score:         r.Score,
		TotalMarks:    r.TotalMarks,
		Percentage:    r.Percentage,
		Passed:        r.Passed,
		AttemptNumber: r.AttemptNumber,
	}
}

// ExamStats aggregates the reports of one exam.
type ExamStats struct {
	ExamID            uuid.UUID `json:"exam_id"`
	Attempts          int64     `json:"attempts"`
	Passed            int64     `json:"passed"`
	AverageScore      float64   `json:"average_score"`
	AveragePercentage float64   `json:"average_percentage"`
	PassRate          float64   `json:"pass_rate"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MonitorEventType enumerates live monitor events.
type MonitorEventType string

const (
	MonitorAttemptStarted   MonitorEventType = "attempt_started"
	MonitorViolation        MonitorEventType = "violation"
	MonitorAttemptSubmitted MonitorEventType = "attempt_submitted"
)

// MonitorEvent is published on the exam's monitor channel.
type MonitorEvent struct {
	Type       MonitorEventType `json:"type"`
	AttemptID  uuid.UUID        `json:"attempt_id"`
	UserID     int              `json:"user_id"`
	Violations int              `json:"violations,omitempty"`
	Score      *int             `json:"score,omitempty"`
	Passed     *bool            `json:"passed,omitempty"`
	Forced     bool             `json:"forced,omitempty"`
	At         int64            `json:"at"`
}
