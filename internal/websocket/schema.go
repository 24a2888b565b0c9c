package websocket

import (
	"github.com/stemsi/exstem-exam/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest checkpoints one answer slot. A null selected_option clears it.
type AutosaveRequest struct {
	Action         Action `json:"action"`
	Slot           int    `json:"slot"`
	SelectedOption *int   `json:"selected_option"`
}

// ViolationRequest reports an integrity signal.
type ViolationRequest struct {
	Action Action              `json:"action"`
	Kind   model.ViolationKind `json:"kind"`
}

// SubmitRequest finishes the attempt with the full answer set.
type SubmitRequest struct {
	Action Action `json:"action"`
	model.SubmitRequest
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventReady     Event = "ready"
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventViolation Event = "violation"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

// ReadyResponse is sent once after the upgrade.
type ReadyResponse struct {
	Event            Event  `json:"event"`
	AttemptID        string `json:"attempt_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Violations       int    `json:"violations"`
	Threshold        int    `json:"violation_threshold"`
}

type SavedResponse struct {
	Event Event `json:"event"`
	Slot  int   `json:"slot"`
}

type ViolationResponse struct {
	Event Event `json:"event"`
	model.ViolationStatus
}

type SubmittedResponse struct {
	Event  Event               `json:"event"`
	Result *model.SubmitResult `json:"result"`
}

// ErrorResponse carries the same code as the REST envelope would.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
