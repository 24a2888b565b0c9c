package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
)

// ReportHandler serves stored reports to their owners and to staff.
type ReportHandler struct {
	reportService *service.ReportService
	log           zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reportService *service.ReportService, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		log:           log.With().Str("component", "report_handler").Logger(),
	}
}

// ListMine godoc
// GET /api/v1/reports?exam_id=
func (h *ReportHandler) ListMine(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var examID *uuid.UUID
	if raw := c.Query("exam_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		examID = &id
	}

	reports, err := h.reportService.ListMine(c.Request.Context(), claims.Actor(), examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reports": reports})
}

// GetReport godoc
// GET /api/v1/reports/:id
func (h *ReportHandler) GetReport(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	reportID, ok := paramID(c, "id")
	if !ok {
		return
	}

	report, err := h.reportService.Get(c.Request.Context(), claims.Actor(), reportID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"report": report})
}
