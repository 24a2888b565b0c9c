package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/scoring"
	"github.com/stemsi/exstem-exam/internal/service"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   response.ErrCode
	}{
		{service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
		{service.ErrNotExamAuthor, http.StatusForbidden, response.ErrNotExamAuthor},
		{service.ErrAttemptsExhausted, http.StatusConflict, response.ErrAttemptsExhausted},
		{fmt.Errorf("start: %w", service.ErrOutOfWindow), http.StatusConflict, response.ErrExamOutOfWindow},
		{service.ErrSubmissionInProgress, http.StatusConflict, response.ErrSubmissionInProgress},
		{fmt.Errorf("%w: db down", service.ErrPersistence), http.StatusServiceUnavailable, response.ErrSubmissionFailed},
		{fmt.Errorf("%w: question 2", scoring.ErrIndexOutOfRange), http.StatusUnprocessableEntity, response.ErrIndexOutOfRange},
		{service.ErrSlotOutOfRange, http.StatusUnprocessableEntity, response.ErrIndexOutOfRange},
		{scoring.ErrMalformedExam, http.StatusUnprocessableEntity, response.ErrMalformedExam},
		{&service.ValidationError{Fields: map[string]string{"x": "y"}}, http.StatusUnprocessableEntity, response.ErrValidation},
		{service.ErrTooManyLogins, http.StatusTooManyRequests, response.ErrTooManyLogins},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := errorStatus(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("errorStatus(%v) = %d %s, want %d %s", tt.err, status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
