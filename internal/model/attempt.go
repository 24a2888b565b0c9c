package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the server-side states of an attempt record.
type AttemptStatus string

const (
	AttemptStatusStarted   AttemptStatus = "STARTED"
	AttemptStatusSubmitted AttemptStatus = "SUBMITTED"
)

// Attempt is the AttemptStarted record written when an attempt is authorized.
// Snapshot is the exam as it was at that moment, answer key included; it never leaves the server.
type Attempt struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	UserID        int           `json:"user_id"`
	AttemptNumber int           `json:"attempt_number"`
	Status        AttemptStatus `json:"status"`
	Snapshot      *Exam         `json:"-"`
	StartedAt     time.Time     `json:"started_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
}

// Expired reports whether the attempt's time budget has run out at now.
func (a *Attempt) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// RemainingSeconds is the time left at now, never negative.
func (a *Attempt) RemainingSeconds(now time.Time) int {
	left := a.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left.Seconds())
}

// SessionDescriptor is what a successful authorization hands to the attempt:
// the exam snapshot and the time budget.
type SessionDescriptor struct {
	Snapshot           *Exam `json:"-"`
	DurationSeconds    int   `json:"duration_seconds"`
	ViolationThreshold int   `json:"violation_threshold"`
}

// AttemptSession is the client's view of a started (or resumed) attempt.
type AttemptSession struct {
	AttemptID          uuid.UUID `json:"attempt_id"`
	ExamID             uuid.UUID `json:"exam_id"`
	AttemptNumber      int       `json:"attempt_number"`
	Paper              ExamPaper `json:"paper"`
	DurationSeconds    int       `json:"duration_seconds"`
	RemainingSeconds   int       `json:"remaining_seconds"`
	ViolationThreshold int       `json:"violation_threshold"`
	Violations         int       `json:"violations"`
	Answers            []*int    `json:"answers"`
	StartedAt          time.Time `json:"started_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	Resumed            bool      `json:"resumed"`
}

// SubmitReason records why an attempt was submitted.
type SubmitReason string

const (
	SubmitReasonManual     SubmitReason = "MANUAL"
	SubmitReasonTimeout    SubmitReason = "TIMEOUT"
	SubmitReasonViolations SubmitReason = "VIOLATIONS"
)

// Forced reports whether the reason is an automatic submission.
func (r SubmitReason) Forced() bool {
	return r == SubmitReasonTimeout || r == SubmitReasonViolations
}

// SubmitRequest carries the answer slots of a finished attempt.
// Each slot is a selected option index or null for unanswered.
type SubmitRequest struct {
	Answers        []*int       `json:"answers" binding:"required"`
	ElapsedSeconds int          `json:"elapsed_seconds" binding:"min=0"`
	Reason         SubmitReason `json:"reason" binding:"omitempty,oneof=MANUAL TIMEOUT VIOLATIONS"`
	Violations     int          `json:"violations" binding:"min=0"`
	DeviceInfo     string       `json:"device_info" binding:"omitempty,max=512"`
}

// DeviceMeta is the submitting client's network and device metadata.
type DeviceMeta struct {
	IPAddress  string
	DeviceInfo string
}

// CheckpointRequest stores one answer slot. A null option clears the slot.
type CheckpointRequest struct {
	SelectedOption *int `json:"selected_option" binding:"omitempty,min=0"`
}

// ViolationKind classifies an integrity signal.
type ViolationKind string

const (
	ViolationVisibilityHidden ViolationKind = "VISIBILITY_HIDDEN"
	ViolationWindowBlur       ViolationKind = "WINDOW_BLUR"
	ViolationFullscreenExit   ViolationKind = "FULLSCREEN_EXIT"
)

// ViolationRequest reports one integrity signal.
type ViolationRequest struct {
	Kind ViolationKind `json:"kind" binding:"required,oneof=VISIBILITY_HIDDEN WINDOW_BLUR FULLSCREEN_EXIT"`
}

// ViolationStatus is the server's count after recording a signal.
type ViolationStatus struct {
	Count            int  `json:"count"`
	Threshold        int  `json:"threshold"`
	ThresholdReached bool `json:"threshold_reached"`
}

// IntegrityEvent is a persisted integrity signal.
type IntegrityEvent struct {
	AttemptID  uuid.UUID     `json:"attempt_id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	UserID     int           `json:"user_id"`
	Kind       ViolationKind `json:"kind"`
	Count      int           `json:"count"`
	RecordedAt time.Time     `json:"recorded_at"`
}
