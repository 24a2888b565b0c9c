package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/validator"
	ws "github.com/stemsi/exstem-exam/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an attempt over a WebSocket: checkpoints, integrity
// signals and the final submit share one connection.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream
// Upgrades to WebSocket for autosave, violations and submit of one attempt.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID := claims.UserID

	// Ownership and openness are checked before the upgrade so failures
	// keep the JSON envelope.
	session, err := h.attemptService.Resume(c.Request.Context(), attemptID, userID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Prepare(conn)

	wsLog := h.log.With().
		Int("user_id", userID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ws.WriteTyped(conn, ws.ReadyResponse{
		Event:            ws.EventReady,
		AttemptID:        session.AttemptID.String(),
		RemainingSeconds: session.RemainingSeconds,
		Violations:       session.Violations,
		Threshold:        session.ViolationThreshold,
	})

	meta := deviceMeta(c, "")

	for {
		action, data, err := ws.ReadMessage(conn)
		if err != nil {
			if data != nil {
				// Frame arrived but was not JSON.
				ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		// Each message gets a fresh context so a slow client cannot hold one open.
		ctx := context.Background()

		switch action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, attemptID, userID, data)
		case ws.ActionViolation:
			h.handleViolation(ctx, conn, attemptID, userID, data)
		case ws.ActionSubmit:
			if h.handleSubmit(ctx, conn, wsLog, attemptID, userID, data, meta) {
				return
			}
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(action))
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, attemptID uuid.UUID, userID int, data []byte) {
	var req ws.AutosaveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed autosave")
		return
	}
	if err := h.attemptService.Checkpoint(ctx, attemptID, userID, req.Slot, req.SelectedOption); err != nil {
		h.writeServiceError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Slot: req.Slot})
}

func (h *WSHandler) handleViolation(ctx context.Context, conn *websocket.Conn, attemptID uuid.UUID, userID int, data []byte) {
	var req ws.ViolationRequest
	if err := json.Unmarshal(data, &req); err != nil || !validViolationKind(req.Kind) {
		ws.WriteError(conn, string(response.ErrValidation), "kind must be VISIBILITY_HIDDEN, WINDOW_BLUR or FULLSCREEN_EXIT")
		return
	}
	status, err := h.attemptService.RecordViolation(ctx, attemptID, userID, req.Kind)
	if err != nil {
		h.writeServiceError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.ViolationResponse{Event: ws.EventViolation, ViolationStatus: *status})
}

// handleSubmit reports whether the stream is finished.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, userID int, data []byte, meta model.DeviceMeta) bool {
	var req ws.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed submit")
		return false
	}
	if fields := validator.Struct(&req.SubmitRequest); fields != nil {
		ws.WriteError(conn, string(response.ErrValidation), validationMessage(fields))
		return false
	}
	if req.DeviceInfo != "" {
		meta.DeviceInfo = clampDeviceInfo(req.DeviceInfo)
	}

	report, err := h.attemptService.Submit(ctx, attemptID, userID, &req.SubmitRequest, meta)
	if err != nil {
		h.writeServiceError(conn, err)
		return false
	}

	wsLog.Info().
		Float64("percentage", report.Percentage).
		Bool("passed", report.Passed).
		Msg("Attempt submitted over stream")

	ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Result: report.Result()})
	return true
}

// writeServiceError sends the domain message for client errors. Server-side
// failures are logged and reported with a fixed message.
func (h *WSHandler) writeServiceError(conn *websocket.Conn, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("code", string(code)).Msg("Stream action failed")
		msg = serverErrorMessage(code)
	}
	ws.WriteError(conn, string(code), msg)
}

func serverErrorMessage(code response.ErrCode) string {
	if code == response.ErrSubmissionFailed {
		return "submission could not be saved, retry"
	}
	return "internal server error"
}

// validationMessage flattens field errors into one line, in field order.
func validationMessage(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, len(keys))
	for i, k := range keys {
		msgs[i] = fields[k]
	}
	return strings.Join(msgs, "; ")
}

func validViolationKind(k model.ViolationKind) bool {
	switch k {
	case model.ViolationVisibilityHidden, model.ViolationWindowBlur, model.ViolationFullscreenExit:
		return true
	}
	return false
}
