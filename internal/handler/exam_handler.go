package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
)

// ExamHandler serves the student side of the catalog: lobby, paper and attempt start.
type ExamHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, attemptService *service.AttemptService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService:    examService,
		attemptService: attemptService,
		log:            log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/exams
// Returns active exams with the caller's attempt usage.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lobby, err := h.examService.GetActiveExamsFor(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if lobby == nil {
		lobby = []model.LobbyExam{}
	}

	response.Success(c, http.StatusOK, gin.H{"exams": lobby})
}

// GetPaper godoc
// GET /api/v1/exams/:id
// Returns the exam without its answer key.
func (h *ExamHandler) GetPaper(c *gin.Context) {
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	paper, err := h.examService.GetPaper(c.Request.Context(), examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// StartAttempt godoc
// POST /api/v1/exams/:id/attempts
// Starts an attempt, or resumes the caller's unexpired one (200 instead of 201).
func (h *ExamHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	session, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if session.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"session": session})
}
