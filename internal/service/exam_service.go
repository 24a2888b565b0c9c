package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
	"github.com/stemsi/exstem-exam/internal/response"
)

const examCacheTTL = 6 * time.Hour

// ExamService is the exam catalog: cached reads, the student lobby and authoring.
type ExamService struct {
	exams    ExamStore
	attempts AttemptStore
	rdb      *redis.Client
	log      zerolog.Logger
	now      func() time.Time
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, attempts AttemptStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:    exams,
		attempts: attempts,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
		now:      time.Now,
	}
}

// ─── Reads ───────────────────────────────────────────────────

// GetExam returns the full exam, answer key included, from Redis or PostgreSQL.
func (s *ExamService) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	key := config.CacheKey.ExamKey(id.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var exam model.Exam
		if jsonErr := json.Unmarshal(data, &exam); jsonErr == nil {
			return &exam, nil
		}
		s.log.Warn().Str("exam_id", id.String()).Msg("Corrupt exam cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Exam cache read failed, falling back to database")
	}

	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if err := s.cacheExam(ctx, exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to cache exam")
	}
	return exam, nil
}

// GetActiveExamsFor lists the active exams whose window has not closed, with
// the user's attempt usage for each.
func (s *ExamService) GetActiveExamsFor(ctx context.Context, userID int) ([]model.LobbyExam, error) {
	now := s.now()

	exams, err := s.exams.ListActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active exams: %w", err)
	}
	usage, err := s.attempts.UsageByUser(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("attempt usage: %w", err)
	}

	lobby := make([]model.LobbyExam, 0, len(exams))
	for i := range exams {
		e := exams[i].Summary()
		u := usage[e.ID]

		remaining := e.MaxAttempts - u.Started
		if remaining < 0 {
			remaining = 0
		}
		lobby = append(lobby, model.LobbyExam{
			Exam:              e,
			AttemptsUsed:      u.Started,
			AttemptsRemaining: remaining,
			ActiveAttemptID:   u.ActiveID,
			Upcoming:          now.Before(e.StartDate),
		})
	}
	return lobby, nil
}

// GetPaper returns the redacted exam for display.
func (s *ExamService) GetPaper(ctx context.Context, id uuid.UUID) (*model.ExamPaper, error) {
	exam, err := s.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exam.IsActive {
		return nil, ErrNotFound
	}
	paper := exam.Paper()
	return &paper, nil
}

// ─── Authoring ───────────────────────────────────────────────

// GetForStaff returns the full exam if the actor may manage it.
func (s *ExamService) GetForStaff(ctx context.Context, actor Actor, id uuid.UUID) (*model.Exam, error) {
	return s.loadManaged(ctx, actor, id)
}

// ListForStaff lists exams: all of them for admins, their own for teachers.
func (s *ExamService) ListForStaff(ctx context.Context, actor Actor, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	authorID := actor.UserID
	if actor.Role == model.RoleAdmin {
		authorID = 0
	}

	exams, total, err := s.exams.ListByAuthorPaginated(ctx, authorID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, response.NewPagination(page, perPage, total), nil
}

// Create validates and stores a new exam authored by the actor.
func (s *ExamService) Create(ctx context.Context, actor Actor, req *model.CreateExamRequest) (*model.Exam, error) {
	exam := req.ToExam(actor.UserID)
	if fields := exam.Validate(); fields != nil {
		return nil, &ValidationError{Fields: fields}
	}

	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("author_id", actor.UserID).
		Int("questions", len(exam.Questions)).
		Msg("Exam created")
	return exam, nil
}

// Update applies scalar changes. Attempts already started keep their snapshot.
func (s *ExamService) Update(ctx context.Context, actor Actor, id uuid.UUID, req *model.UpdateExamRequest) (*model.Exam, error) {
	current, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	updated := req.Apply(*current)
	if fields := updated.Validate(); fields != nil {
		return nil, &ValidationError{Fields: fields}
	}

	if err := s.exams.Update(ctx, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update exam: %w", err)
	}
	s.invalidate(ctx, id)

	s.log.Info().Str("exam_id", id.String()).Int("actor_id", actor.UserID).Msg("Exam updated")
	return &updated, nil
}

// ReplaceQuestions swaps the question list. Total marks follow the new points.
func (s *ExamService) ReplaceQuestions(ctx context.Context, actor Actor, id uuid.UUID, req *model.ReplaceQuestionsRequest) (*model.Exam, error) {
	exam, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	questions := make([]model.Question, len(req.Questions))
	for i := range req.Questions {
		questions[i] = req.Questions[i].ToQuestion(i)
	}
	exam.Questions = questions
	exam.TotalMarks = exam.QuestionPoints()

	if fields := exam.Validate(); fields != nil {
		return nil, &ValidationError{Fields: fields}
	}

	if err := s.exams.ReplaceQuestions(ctx, id, exam.TotalMarks, exam.Questions); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("replace questions: %w", err)
	}
	s.invalidate(ctx, id)

	s.log.Info().
		Str("exam_id", id.String()).
		Int("questions", len(questions)).
		Int("total_marks", exam.TotalMarks).
		Msg("Exam questions replaced")
	return exam, nil
}

// Delete removes an exam that no attempt references.
func (s *ExamService) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if _, err := s.loadManaged(ctx, actor, id); err != nil {
		return err
	}

	inUse, err := s.exams.HasAttempts(ctx, id)
	if err != nil {
		return fmt.Errorf("check attempts: %w", err)
	}
	if inUse {
		return ErrExamInUse
	}

	if err := s.exams.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrNotFound
		case repository.IsForeignKeyViolation(err):
			return ErrExamInUse
		}
		return fmt.Errorf("delete exam: %w", err)
	}
	s.invalidate(ctx, id)

	s.log.Info().Str("exam_id", id.String()).Int("actor_id", actor.UserID).Msg("Exam deleted")
	return nil
}

func (s *ExamService) loadManaged(ctx context.Context, actor Actor, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !actor.CanManage(exam) {
		return nil, ErrNotExamAuthor
	}
	return exam, nil
}

// ─── Cache ───────────────────────────────────────────────────

func (s *ExamService) cacheExam(ctx context.Context, exam *model.Exam) error {
	data, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	return s.rdb.Set(ctx, config.CacheKey.ExamKey(exam.ID.String()), data, examCacheTTL).Err()
}

func (s *ExamService) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.rdb.Del(ctx, config.CacheKey.ExamKey(id.String())).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to invalidate exam cache")
	}
}

// PrewarmActive loads every active exam into Redis on start-up.
func (s *ExamService) PrewarmActive(ctx context.Context) error {
	exams, err := s.exams.ListActive(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No active exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming active exams...")

	pipe := s.rdb.Pipeline()
	warmed := 0
	for i := range exams {
		full, err := s.exams.GetByID(ctx, exams[i].ID)
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to load exam, skipping")
			continue
		}
		data, err := json.Marshal(full)
		if err != nil {
			continue
		}
		pipe.Set(ctx, config.CacheKey.ExamKey(full.ID.String()), data, examCacheTTL)
		warmed++
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}
