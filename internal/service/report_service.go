package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
)

// ReportService reads reports under the owner-or-staff rule.
type ReportService struct {
	reports ReportStore
	exams   ExamStore
	log     zerolog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(reports ReportStore, exams ExamStore, log zerolog.Logger) *ReportService {
	return &ReportService{
		reports: reports,
		exams:   exams,
		log:     log.With().Str("component", "report_service").Logger(),
	}
}

// Get returns a report to its owner or to staff.
func (s *ReportService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*model.Report, error) {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	if rep.UserID != actor.UserID && !actor.Role.IsStaff() {
		s.log.Warn().
			Str("report_id", id.String()).
			Int("actor_id", actor.UserID).
			Msg("Report read denied")
		return nil, ErrForbidden
	}
	return rep, nil
}

// ListMine returns the actor's own reports, optionally for one exam.
func (s *ReportService) ListMine(ctx context.Context, actor Actor, examID *uuid.UUID) ([]model.Report, error) {
	reports, err := s.reports.ListByUser(ctx, actor.UserID, examID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// ListByExam returns a page of an exam's reports to staff managing that exam.
func (s *ReportService) ListByExam(ctx context.Context, actor Actor, examID uuid.UUID, page, perPage int) ([]model.Report, *response.Pagination, error) {
	if err := s.authorizeExam(ctx, actor, examID); err != nil {
		return nil, nil, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	reports, total, err := s.reports.ListByExam(ctx, examID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list exam reports: %w", err)
	}
	return reports, response.NewPagination(page, perPage, total), nil
}

// Stats returns the aggregated results of an exam to staff managing it.
func (s *ReportService) Stats(ctx context.Context, actor Actor, examID uuid.UUID) (*model.ExamStats, error) {
	if err := s.authorizeExam(ctx, actor, examID); err != nil {
		return nil, err
	}
	return s.reports.Stats(ctx, examID)
}

func (s *ReportService) authorizeExam(ctx context.Context, actor Actor, examID uuid.UUID) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get exam: %w", err)
	}
	if !actor.CanManage(exam) {
		return ErrNotExamAuthor
	}
	return nil
}
