package service

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers map them to response codes with errors.Is.
var (
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("forbidden")

	// Attempt authorization.
	ErrExamNotActive     = errors.New("exam is not active")
	ErrOutOfWindow       = errors.New("exam is outside its availability window")
	ErrAttemptsExhausted = errors.New("no attempts left for this exam")

	// Attempt lifecycle.
	ErrAttemptClosed        = errors.New("attempt is closed")
	ErrSubmissionInProgress = errors.New("a submission for this attempt is already in progress")
	ErrPersistence          = errors.New("failed to persist report")
	ErrSlotOutOfRange       = errors.New("answer slot out of range")

	// Authoring.
	ErrNotExamAuthor  = errors.New("not the author of this exam")
	ErrExamInUse      = errors.New("exam has attempts and cannot be deleted")
	ErrInvalidExam    = errors.New("exam violates its invariants")
	ErrEmailTaken     = errors.New("email is already registered")
	ErrTooManyLogins  = errors.New("too many failed login attempts")
	ErrSessionRevoked = errors.New("session revoked")
)

// ErrAttemptClosed variants, told apart by message only.
var (
	errAlreadySubmitted = fmt.Errorf("%w: already submitted", ErrAttemptClosed)
	errTimeUp           = fmt.Errorf("%w: time is up", ErrAttemptClosed)
)

// ValidationError carries field-level messages for ErrInvalidExam.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return ErrInvalidExam.Error() }

func (e *ValidationError) Unwrap() error { return ErrInvalidExam }
