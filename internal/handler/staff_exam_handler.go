package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/validator"
)

// StaffExamHandler handles exam authoring and results for teachers and admins.
type StaffExamHandler struct {
	examService   *service.ExamService
	reportService *service.ReportService
	log           zerolog.Logger
}

// NewStaffExamHandler creates a new StaffExamHandler.
func NewStaffExamHandler(examService *service.ExamService, reportService *service.ReportService, log zerolog.Logger) *StaffExamHandler {
	return &StaffExamHandler{
		examService:   examService,
		reportService: reportService,
		log:           log.With().Str("component", "staff_exam_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/staff/exams
// Admins see all exams; teachers see only their own.
func (h *StaffExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, perPage := pageQuery(c)
	exams, pagination, err := h.examService.ListForStaff(c.Request.Context(), claims.Actor(), page, perPage)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// CreateExam godoc
// POST /api/v1/staff/exams
func (h *StaffExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), claims.Actor(), &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// GetExam godoc
// GET /api/v1/staff/exams/:id
// Returns the full exam, answer key included.
func (h *StaffExamHandler) GetExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	exam, err := h.examService.GetForStaff(c.Request.Context(), claims.Actor(), examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// UpdateExam godoc
// PUT /api/v1/staff/exams/:id
// Partial update; is_active toggles availability.
func (h *StaffExamHandler) UpdateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Update(c.Request.Context(), claims.Actor(), examID, &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// DeleteExam godoc
// DELETE /api/v1/staff/exams/:id
func (h *StaffExamHandler) DeleteExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.examService.Delete(c.Request.Context(), claims.Actor(), examID); err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ReplaceQuestions godoc
// PUT /api/v1/staff/exams/:id/questions
func (h *StaffExamHandler) ReplaceQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.ReplaceQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.ReplaceQuestions(c.Request.Context(), claims.Actor(), examID, &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// ListReports godoc
// GET /api/v1/staff/exams/:id/reports
func (h *StaffExamHandler) ListReports(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	page, perPage := pageQuery(c)
	reports, pagination, err := h.reportService.ListByExam(c.Request.Context(), claims.Actor(), examID, page, perPage)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"reports": reports}, pagination)
}

// GetStats godoc
// GET /api/v1/staff/exams/:id/stats
func (h *StaffExamHandler) GetStats(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}

	stats, err := h.reportService.Stats(c.Request.Context(), claims.Actor(), examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}
