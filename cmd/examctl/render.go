package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/stemsi/exstem-exam/internal/client"
	"github.com/stemsi/exstem-exam/internal/session"
)

// renderer prints a view only when something the student can act on changed.
// The clock is printed once a minute and every second of the last ten.
type renderer struct {
	out  io.Writer
	last *session.View
}

func (r *renderer) render(v session.View) {
	out := r.out
	if out == nil {
		out = os.Stdout
	}
	prev := r.last
	r.last = &v

	if prev != nil && prev.State == v.State && v.State == session.StateActive &&
		prev.Current == v.Current && sameSelection(prev.Selected, v.Selected) &&
		(prev.Summary == nil) == (v.Summary == nil) && prev.Violations == v.Violations {
		if v.RemainingSeconds != prev.RemainingSeconds && (v.RemainingSeconds%60 == 0 || v.RemainingSeconds <= 10) {
			fmt.Fprintf(out, "  [%s left]\n", clock(v.RemainingSeconds))
		}
		return
	}

	switch v.State {
	case session.StateInitializing:
		if v.Err != nil {
			fmt.Fprintf(out, "Cannot start: %v\n", v.Err)
		}
	case session.StateActive:
		if v.Summary != nil {
			fmt.Fprintf(out, "\nSubmit now? %d of %d answered, %d unanswered, %s left. [y] confirm, [x] keep working\n",
				v.Summary.Answered, v.QuestionCount, v.Summary.Unanswered, clock(v.RemainingSeconds))
			return
		}
		if prev != nil && v.Violations > prev.Violations {
			fmt.Fprintf(out, "! Violation %d of %d recorded\n", v.Violations, v.Threshold)
		}
		r.question(out, v)
	case session.StateSubmitting:
		switch {
		case v.InFlight:
			if v.Forced {
				fmt.Fprintf(out, "\nSubmitting automatically (%s)...\n", strings.ToLower(string(v.Reason)))
			} else {
				fmt.Fprintln(out, "\nSubmitting...")
			}
		case v.Err != nil:
			hint := ""
			var apiErr *client.APIError
			if errors.As(v.Err, &apiErr) && apiErr.Retryable() {
				hint = " [r] to retry"
			}
			fmt.Fprintf(out, "Submission failed: %v.%s\n", v.Err, hint)
		}
	case session.StateTerminated:
		// main prints the result
	}
}

func (r *renderer) question(out io.Writer, v session.View) {
	q := v.Question
	fmt.Fprintf(out, "\n── Question %d/%d (%d pt) ── %s left ──\n%s\n", v.Current+1, v.QuestionCount, q.Points, clock(v.RemainingSeconds), q.Prompt)
	if len(q.Options) == 0 {
		fmt.Fprintln(out, "  (written answer, not scored here)")
		return
	}
	for i, o := range q.Options {
		mark := " "
		if v.Selected != nil && *v.Selected == i {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %d. %s\n", mark, i+1, o.Text)
	}
}

func sameSelection(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
