package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/scoring"
	"github.com/stemsi/exstem-exam/internal/service"
)

// errorStatus maps a service error to its HTTP status and envelope code.
// Unknown errors map to 500.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, service.ErrNotExamAuthor):
		return http.StatusForbidden, response.ErrNotExamAuthor

	case errors.Is(err, service.ErrExamNotActive):
		return http.StatusConflict, response.ErrExamNotActive
	case errors.Is(err, service.ErrOutOfWindow):
		return http.StatusConflict, response.ErrExamOutOfWindow
	case errors.Is(err, service.ErrAttemptsExhausted):
		return http.StatusConflict, response.ErrAttemptsExhausted

	case errors.Is(err, service.ErrAttemptClosed):
		return http.StatusConflict, response.ErrAttemptClosed
	case errors.Is(err, service.ErrSubmissionInProgress):
		return http.StatusConflict, response.ErrSubmissionInProgress
	case errors.Is(err, service.ErrPersistence):
		return http.StatusServiceUnavailable, response.ErrSubmissionFailed
	case errors.Is(err, scoring.ErrIndexOutOfRange), errors.Is(err, service.ErrSlotOutOfRange):
		return http.StatusUnprocessableEntity, response.ErrIndexOutOfRange
	case errors.Is(err, scoring.ErrMalformedExam):
		return http.StatusUnprocessableEntity, response.ErrMalformedExam

	case errors.Is(err, service.ErrInvalidExam):
		return http.StatusUnprocessableEntity, response.ErrValidation
	case errors.Is(err, service.ErrExamInUse):
		return http.StatusConflict, response.ErrDependencyExists
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, response.ErrConflict

	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case errors.Is(err, service.ErrTooManyLogins):
		return http.StatusTooManyRequests, response.ErrTooManyLogins
	case errors.Is(err, service.ErrSessionRevoked):
		return http.StatusUnauthorized, response.ErrSessionInvalidated
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// fail writes the envelope for err. Internal errors are logged with the request ID.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		response.FailWithFields(c, status, code, verr.Fields)
		return
	}
	response.Fail(c, status, code)
}

// paramID parses a UUID path parameter, writing INVALID_ID when malformed.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func pageQuery(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return page, perPage
}
