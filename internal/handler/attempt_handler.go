package handler

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/validator"
)

// AttemptHandler handles the in-progress attempt endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// GetAttempt godoc
// GET /api/v1/attempts/:id
// Returns the session state after a page reload: remaining time and checkpointed answers.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := paramID(c, "id")
	if !ok {
		return
	}

	session, err := h.attemptService.Resume(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// SaveAnswer godoc
// PUT /api/v1/attempts/:id/answers/:slot
// Checkpoints one answer slot; {"selected_option": null} clears it.
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := paramID(c, "id")
	if !ok {
		return
	}
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.CheckpointRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.Checkpoint(c.Request.Context(), attemptID, claims.UserID, slot, req.SelectedOption); err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"slot": slot, "selected_option": req.SelectedOption})
}

// ReportViolation godoc
// POST /api/v1/attempts/:id/violations
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.ViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.attemptService.RecordViolation(c.Request.Context(), attemptID, claims.UserID, req.Kind)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// Submit godoc
// POST /api/v1/attempts/:id/submit
// Scores the answers server-side and stores the report. Repeating a submit
// returns the stored result.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	report, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID, &req, deviceMeta(c, req.DeviceInfo))
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": report.Result()})
}

// maxDeviceInfo matches the max=512 binding on SubmitRequest.DeviceInfo.
const maxDeviceInfo = 512

// deviceMeta prefers the client's own device description over its User-Agent.
func deviceMeta(c *gin.Context, deviceInfo string) model.DeviceMeta {
	if deviceInfo == "" {
		deviceInfo = c.Request.UserAgent()
	}
	return model.DeviceMeta{IPAddress: c.ClientIP(), DeviceInfo: clampDeviceInfo(deviceInfo)}
}

// clampDeviceInfo drops invalid UTF-8 and keeps at most maxDeviceInfo runes.
func clampDeviceInfo(s string) string {
	s = strings.ToValidUTF8(s, "")
	if utf8.RuneCountInString(s) <= maxDeviceInfo {
		return s
	}
	n := 0
	for i := range s {
		if n == maxDeviceInfo {
			return s[:i]
		}
		n++
	}
	return s
}
