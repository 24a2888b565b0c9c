package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/model"
)

// Backend is the server side of an attempt. Start and Submit are the only
// calls the session waits for; checkpoints and violation reports are sent
// in the background and their failures are only logged.
type Backend interface {
	StartAttempt(ctx context.Context, examID uuid.UUID) (*model.AttemptSession, error)
	SaveAnswer(ctx context.Context, attemptID uuid.UUID, slot int, option *int) error
	ReportViolation(ctx context.Context, attemptID uuid.UUID, kind model.ViolationKind) (*model.ViolationStatus, error)
	Submit(ctx context.Context, attemptID uuid.UUID, req *model.SubmitRequest) (*model.SubmitResult, error)
}

// View is a read-only copy of the session published after every event.
type View struct {
	State            State
	AttemptID        uuid.UUID
	Current          int
	QuestionCount    int
	Question         model.QuestionForStudent
	Selected         *int
	RemainingSeconds int
	Violations       int
	Threshold        int
	Summary          *Summary
	Forced           bool
	Reason           model.SubmitReason
	InFlight         bool
	Err              error
	Result           *model.SubmitResult
}

type eventKind int

const (
	evNext eventKind = iota
	evPrev
	evJump
	evSelect
	evClear
	evViolation
	evRequestSubmit
	evConfirm
	evCancel
	evRetry
	evSubmitDone
)

type event struct {
	kind   eventKind
	n      int
	vkind  model.ViolationKind
	result *model.SubmitResult
	err    error
}

// Runner owns one Machine and feeds it ticks, user input and integrity
// signals in arrival order from a single goroutine.
type Runner struct {
	backend Backend
	examID  uuid.UUID
	machine *Machine

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	ticks    <-chan time.Time
	onChange func(View)
	log      zerolog.Logger

	summary *Summary
}

// Option configures a Runner.
type Option func(*Runner)

// WithTicks replaces the one-second ticker, mainly for tests.
func WithTicks(ch <-chan time.Time) Option {
	return func(r *Runner) { r.ticks = ch }
}

// WithObserver registers a callback invoked on the runner goroutine after each event.
func WithObserver(fn func(View)) Option {
	return func(r *Runner) { r.onChange = fn }
}

// WithLogger sets the runner logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) { r.log = log.With().Str("component", "attempt_session").Logger() }
}

// NewRunner creates a runner for examID. Call Run to start the attempt.
func NewRunner(backend Backend, examID uuid.UUID, opts ...Option) *Runner {
	r := &Runner{
		backend: backend,
		examID:  examID,
		machine: NewMachine(),
		events:  make(chan event, 64),
		done:    make(chan struct{}),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ─── Input ───────────────────────────────────────────────────

func (r *Runner) Next()                              { r.send(event{kind: evNext}) }
func (r *Runner) Prev()                              { r.send(event{kind: evPrev}) }
func (r *Runner) Jump(index int)                     { r.send(event{kind: evJump, n: index}) }
func (r *Runner) Select(option int)                  { r.send(event{kind: evSelect, n: option}) }
func (r *Runner) Clear()                             { r.send(event{kind: evClear}) }
func (r *Runner) Violation(kind model.ViolationKind) { r.send(event{kind: evViolation, vkind: kind}) }
func (r *Runner) RequestSubmit()                     { r.send(event{kind: evRequestSubmit}) }
func (r *Runner) ConfirmSubmit()                     { r.send(event{kind: evConfirm}) }
func (r *Runner) CancelSubmit()                      { r.send(event{kind: evCancel}) }
func (r *Runner) Retry()                             { r.send(event{kind: evRetry}) }

// send drops the event once Run has returned.
func (r *Runner) send(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} { return r.done }

// ─── Loop ────────────────────────────────────────────────────

// Run starts the attempt and processes events until the session terminates.
// It returns the submission result, the authorization error of a failed
// start, or ctx.Err() when the session is abandoned.
func (r *Runner) Run(ctx context.Context) (*model.SubmitResult, error) {
	defer r.stopOnce.Do(func() { close(r.done) })

	sess, err := r.backend.StartAttempt(ctx, r.examID)
	if err != nil {
		r.machine.Fail(err)
		r.publish()
		return nil, err
	}

	submit, err := r.machine.Begin(sess)
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Str("attempt_id", sess.AttemptID.String()).
		Bool("resumed", sess.Resumed).
		Int("remaining_seconds", r.machine.RemainingSeconds()).
		Msg("Attempt started")
	r.dispatch(ctx, submit)
	r.publish()

	ticks := r.ticks
	if ticks == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for r.machine.State() != StateTerminated {
		select {
		case <-ctx.Done():
			r.log.Warn().Str("attempt_id", r.machine.AttemptID().String()).Msg("Attempt abandoned")
			return nil, ctx.Err()
		case <-ticks:
			r.dispatch(ctx, r.machine.Tick())
		case ev := <-r.events:
			r.handle(ctx, ev)
		}
		r.publish()
	}

	return r.machine.Result(), nil
}

func (r *Runner) handle(ctx context.Context, ev event) {
	m := r.machine
	var err error

	switch ev.kind {
	case evNext:
		err = m.Next()
	case evPrev:
		err = m.Prev()
	case evJump:
		err = m.Jump(ev.n)
	case evSelect:
		var cp *Checkpoint
		if cp, err = m.Select(ev.n); err == nil {
			r.saveAnswer(ctx, cp)
		}
	case evClear:
		var cp *Checkpoint
		if cp, err = m.Clear(); err == nil {
			r.saveAnswer(ctx, cp)
		}
	case evViolation:
		if m.State() != StateActive {
			return
		}
		count, submit := m.Violation()
		r.log.Warn().Str("kind", string(ev.vkind)).Int("count", count).Msg("Integrity violation")
		r.reportViolation(ctx, ev.vkind)
		r.dispatch(ctx, submit)
	case evRequestSubmit:
		var s Summary
		if s, err = m.RequestSubmit(); err == nil {
			r.summary = &s
		}
	case evCancel:
		err = m.CancelSubmit()
		r.summary = nil
	case evConfirm:
		var submit *model.SubmitRequest
		submit, err = m.ConfirmSubmit()
		r.dispatch(ctx, submit)
	case evRetry:
		var submit *model.SubmitRequest
		submit, err = m.Retry()
		r.dispatch(ctx, submit)
	case evSubmitDone:
		if ev.err != nil {
			r.log.Error().Err(ev.err).Str("attempt_id", m.AttemptID().String()).Msg("Submission failed")
			m.SubmitFailed(ev.err)
			return
		}
		m.SubmitSucceeded(ev.result)
		r.log.Info().
			Str("attempt_id", m.AttemptID().String()).
			Int("score", ev.result.Score).
			Bool("passed", ev.result.Passed).
			Msg("Attempt submitted")
	}

	if err != nil {
		r.log.Debug().Err(err).Int("event", int(ev.kind)).Msg("Event rejected")
	}
}

// dispatch sends a submission in the background; the outcome comes back as an event.
func (r *Runner) dispatch(ctx context.Context, req *model.SubmitRequest) {
	if req == nil {
		return
	}
	r.summary = nil
	attemptID := r.machine.AttemptID()
	go func() {
		result, err := r.backend.Submit(ctx, attemptID, req)
		select {
		case r.events <- event{kind: evSubmitDone, result: result, err: err}:
		case <-ctx.Done():
		case <-r.done:
		}
	}()
}

func (r *Runner) saveAnswer(ctx context.Context, cp *Checkpoint) {
	attemptID := r.machine.AttemptID()
	go func() {
		if err := r.backend.SaveAnswer(ctx, attemptID, cp.Slot, cp.SelectedOption); err != nil {
			r.log.Warn().Err(err).Int("slot", cp.Slot).Msg("Failed to checkpoint answer")
		}
	}()
}

func (r *Runner) reportViolation(ctx context.Context, kind model.ViolationKind) {
	attemptID := r.machine.AttemptID()
	go func() {
		if _, err := r.backend.ReportViolation(ctx, attemptID, kind); err != nil {
			r.log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to report violation")
		}
	}()
}

func (r *Runner) publish() {
	if r.onChange == nil {
		return
	}
	m := r.machine
	v := View{
		State:            m.State(),
		AttemptID:        m.AttemptID(),
		Current:          m.Current(),
		QuestionCount:    len(m.Paper().Questions),
		Selected:         m.Answer(m.Current()),
		RemainingSeconds: m.RemainingSeconds(),
		Violations:       m.Violations(),
		Threshold:        m.threshold,
		Summary:          r.summary,
		Forced:           m.Forced(),
		Reason:           m.Reason(),
		InFlight:         m.InFlight(),
		Err:              m.Err(),
		Result:           m.Result(),
	}
	if q, ok := m.Question(); ok {
		v.Question = q
	}
	r.onChange(v)
}
