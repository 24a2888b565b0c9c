// Package session drives a single exam attempt on the taking side: answer
// slots, the countdown, integrity signals and the one terminal submission.
//
// Machine is a plain state machine with no I/O and no clock. Runner owns a
// Machine on one goroutine and performs the start and submit calls.
package session

import (
	"errors"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-exam/internal/model"
)

// State is the lifecycle phase of an attempt session.
type State int

const (
	StateInitializing State = iota
	StateActive
	StateSubmitting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateSubmitting:
		return "submitting"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

var (
	ErrNotActive           = errors.New("session is not active")
	ErrNotInitializing     = errors.New("session already initialized")
	ErrNotSubmitting       = errors.New("session is not submitting")
	ErrNoConfirmation      = errors.New("no submission awaiting confirmation")
	ErrSubmitInFlight      = errors.New("a submission is already in flight")
	ErrOptionOutOfRange    = errors.New("option index out of range")
	ErrQuestionHasNoOption = errors.New("question takes no option")
)

// Summary is shown before a manual submission is committed.
type Summary struct {
	Answered         int `json:"answered"`
	Unanswered       int `json:"unanswered"`
	RemainingSeconds int `json:"remaining_seconds"`
}

// Checkpoint is a single slot change worth persisting.
type Checkpoint struct {
	Slot           int
	SelectedOption *int
}

// Machine is the attempt session state machine. It is not safe for
// concurrent use; Runner serializes access to it.
type Machine struct {
	state State

	attemptID uuid.UUID
	paper     model.ExamPaper
	answers   []*int
	current   int

	duration  int
	remaining int

	violations int
	threshold  int

	confirming bool
	forced     bool
	reason     model.SubmitReason
	inFlight   bool

	err    error
	result *model.SubmitResult
}

// NewMachine returns a machine in StateInitializing.
func NewMachine() *Machine {
	return &Machine{state: StateInitializing}
}

// ─── Initializing ────────────────────────────────────────────

// Begin moves to Active with one slot per question. Checkpointed answers of a
// resumed attempt are restored. An attempt that resumes with no time left is
// submitted at once, and the returned request must be sent.
func (m *Machine) Begin(s *model.AttemptSession) (*model.SubmitRequest, error) {
	if m.state != StateInitializing {
		return nil, ErrNotInitializing
	}

	m.attemptID = s.AttemptID
	m.paper = s.Paper
	m.answers = make([]*int, len(s.Paper.Questions))
	for i := 0; i < len(s.Answers) && i < len(m.answers); i++ {
		if s.Answers[i] != nil {
			v := *s.Answers[i]
			m.answers[i] = &v
		}
	}
	m.duration = s.DurationSeconds
	m.remaining = s.DurationSeconds
	if s.Resumed {
		m.remaining = s.RemainingSeconds
	}
	m.threshold = s.ViolationThreshold
	m.violations = s.Violations
	m.state = StateActive

	switch {
	case m.remaining <= 0:
		m.remaining = 0
		return m.force(model.SubmitReasonTimeout), nil
	case m.threshold > 0 && m.violations >= m.threshold:
		return m.force(model.SubmitReasonViolations), nil
	}
	return nil, nil
}

// Fail terminates an initializing session with the authorization error.
func (m *Machine) Fail(err error) {
	if m.state != StateInitializing {
		return
	}
	m.err = err
	m.state = StateTerminated
}

// ─── Active ──────────────────────────────────────────────────

// Jump moves the pointer to index, clamped to the question range.
func (m *Machine) Jump(index int) error {
	if m.state != StateActive {
		return ErrNotActive
	}
	last := len(m.answers) - 1
	switch {
	case last < 0:
		index = 0
	case index < 0:
		index = 0
	case index > last:
		index = last
	}
	m.current = index
	return nil
}

// Next moves the pointer forward by one.
func (m *Machine) Next() error { return m.Jump(m.current + 1) }

// Prev moves the pointer back by one.
func (m *Machine) Prev() error { return m.Jump(m.current - 1) }

// Select sets the current slot, replacing any earlier choice.
func (m *Machine) Select(option int) (*Checkpoint, error) {
	if m.state != StateActive {
		return nil, ErrNotActive
	}
	if len(m.answers) == 0 {
		return nil, ErrOptionOutOfRange
	}
	q := m.paper.Questions[m.current]
	if len(q.Options) == 0 {
		return nil, ErrQuestionHasNoOption
	}
	if option < 0 || option >= len(q.Options) {
		return nil, ErrOptionOutOfRange
	}
	v := option
	m.answers[m.current] = &v
	return &Checkpoint{Slot: m.current, SelectedOption: &option}, nil
}

// Clear marks the current slot unanswered.
func (m *Machine) Clear() (*Checkpoint, error) {
	if m.state != StateActive {
		return nil, ErrNotActive
	}
	if len(m.answers) == 0 {
		return nil, ErrOptionOutOfRange
	}
	m.answers[m.current] = nil
	return &Checkpoint{Slot: m.current}, nil
}

// Tick counts down one second. At zero the attempt is submitted without
// confirmation and the request to send is returned.
func (m *Machine) Tick() *model.SubmitRequest {
	if m.state != StateActive {
		return nil
	}
	if m.remaining > 0 {
		m.remaining--
	}
	if m.remaining == 0 {
		return m.force(model.SubmitReasonTimeout)
	}
	return nil
}

// Violation records one loss of focus or visibility. Reaching the threshold
// submits the attempt regardless of time left or answers given.
func (m *Machine) Violation() (int, *model.SubmitRequest) {
	if m.state != StateActive {
		return m.violations, nil
	}
	m.violations++
	if m.threshold > 0 && m.violations >= m.threshold {
		return m.violations, m.force(model.SubmitReasonViolations)
	}
	return m.violations, nil
}

// RequestSubmit opens the confirmation step of a manual submission.
func (m *Machine) RequestSubmit() (Summary, error) {
	if m.state != StateActive {
		return Summary{}, ErrNotActive
	}
	m.confirming = true
	return m.summary(), nil
}

// CancelSubmit closes the confirmation step and keeps the attempt going.
func (m *Machine) CancelSubmit() error {
	if m.state != StateActive {
		return ErrNotActive
	}
	if !m.confirming {
		return ErrNoConfirmation
	}
	m.confirming = false
	return nil
}

// ConfirmSubmit commits a manual submission.
func (m *Machine) ConfirmSubmit() (*model.SubmitRequest, error) {
	if m.state != StateActive {
		if m.inFlight {
			return nil, ErrSubmitInFlight
		}
		return nil, ErrNotActive
	}
	if !m.confirming {
		return nil, ErrNoConfirmation
	}
	m.confirming = false
	m.state = StateSubmitting
	m.reason = model.SubmitReasonManual
	m.inFlight = true
	return m.request(), nil
}

func (m *Machine) force(reason model.SubmitReason) *model.SubmitRequest {
	m.confirming = false
	m.forced = true
	m.reason = reason
	m.state = StateSubmitting
	m.inFlight = true
	return m.request()
}

// ─── Submitting ──────────────────────────────────────────────

// SubmitFailed records a failed submission. The session stays in Submitting
// until Retry is called.
func (m *Machine) SubmitFailed(err error) {
	if m.state != StateSubmitting {
		return
	}
	m.inFlight = false
	m.err = err
}

// Retry resends the same answers after a failure.
func (m *Machine) Retry() (*model.SubmitRequest, error) {
	if m.state != StateSubmitting {
		return nil, ErrNotSubmitting
	}
	if m.inFlight {
		return nil, ErrSubmitInFlight
	}
	m.inFlight = true
	m.err = nil
	return m.request(), nil
}

// SubmitSucceeded terminates the session and discards its answers.
func (m *Machine) SubmitSucceeded(result *model.SubmitResult) {
	if m.state != StateSubmitting {
		return
	}
	m.result = result
	m.err = nil
	m.inFlight = false
	m.answers = nil
	m.state = StateTerminated
}

// ─── Reads ───────────────────────────────────────────────────

func (m *Machine) State() State                { return m.state }
func (m *Machine) AttemptID() uuid.UUID        { return m.attemptID }
func (m *Machine) Current() int                { return m.current }
func (m *Machine) RemainingSeconds() int       { return m.remaining }
func (m *Machine) Violations() int             { return m.violations }
func (m *Machine) Forced() bool                { return m.forced }
func (m *Machine) Reason() model.SubmitReason  { return m.reason }
func (m *Machine) InFlight() bool              { return m.inFlight }
func (m *Machine) Confirming() bool            { return m.confirming }
func (m *Machine) Err() error                  { return m.err }
func (m *Machine) Result() *model.SubmitResult { return m.result }

// Answer returns the selection of slot i, or nil.
func (m *Machine) Answer(i int) *int {
	if i < 0 || i >= len(m.answers) {
		return nil
	}
	return m.answers[i]
}

// Question returns the question under the pointer.
func (m *Machine) Question() (model.QuestionForStudent, bool) {
	if m.current >= len(m.paper.Questions) {
		return model.QuestionForStudent{}, false
	}
	return m.paper.Questions[m.current], true
}

// Paper returns the redacted exam being taken.
func (m *Machine) Paper() model.ExamPaper { return m.paper }

func (m *Machine) summary() Summary {
	s := Summary{RemainingSeconds: m.remaining}
	for _, a := range m.answers {
		if a != nil {
			s.Answered++
		} else {
			s.Unanswered++
		}
	}
	return s
}

func (m *Machine) request() *model.SubmitRequest {
	answers := make([]*int, len(m.answers))
	for i, a := range m.answers {
		if a != nil {
			v := *a
			answers[i] = &v
		}
	}
	return &model.SubmitRequest{
		Answers:        answers,
		ElapsedSeconds: m.duration - m.remaining,
		Reason:         m.reason,
		Violations:     m.violations,
	}
}
