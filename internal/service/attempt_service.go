package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
	"github.com/stemsi/exstem-exam/internal/scoring"
)

// clearedSlot marks a slot the student un-selected in the checkpoint hash.
const clearedSlot = "-1"

// AttemptService runs the server side of an attempt: start or resume,
// checkpoints, integrity signals and the scored submission.
type AttemptService struct {
	exams    ExamReader
	attempts AttemptStore
	reports  ReportStore
	rdb      *redis.Client
	cfg      *config.Config
	log      zerolog.Logger
	now      func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamReader,
	attempts AttemptStore,
	reports ReportStore,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exams:    exams,
		attempts: attempts,
		reports:  reports,
		rdb:      rdb,
		cfg:      cfg,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
	}
}

type cachedAttempt struct {
	Attempt  model.Attempt `json:"attempt"`
	Snapshot *model.Exam   `json:"snapshot"`
}

// ─── Start / Resume ──────────────────────────────────────────

// Start begins an attempt at examID, or resumes the user's unexpired one.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, userID int) (*model.AttemptSession, error) {
	now := s.now()

	active, err := s.attempts.FindActive(ctx, examID, userID, now)
	if err == nil {
		s.log.Info().
			Str("attempt_id", active.ID.String()).
			Int("user_id", userID).
			Msg("Resuming active attempt")
		return s.describe(ctx, active, true)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find active attempt: %w", err)
	}

	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.attempts.CreateWithQuota(ctx, examID, userID, now, func(prior int) (*model.SessionDescriptor, error) {
		return AuthorizeStart(exam, userID, prior, now, s.cfg.ViolationThreshold)
	})
	if err != nil {
		if errors.Is(err, ErrExamNotActive) || errors.Is(err, ErrOutOfWindow) ||
			errors.Is(err, ErrAttemptsExhausted) || errors.Is(err, scoring.ErrMalformedExam) {
			s.log.Info().Err(err).Str("exam_id", examID.String()).Int("user_id", userID).Msg("Attempt start refused")
			return nil, err
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheAttempt(ctx, attempt)
	s.publish(ctx, attempt.ExamID, model.MonitorEvent{
		Type:      model.MonitorAttemptStarted,
		AttemptID: attempt.ID,
		UserID:    userID,
	})

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("user_id", userID).
		Int("attempt_number", attempt.AttemptNumber).
		Msg("Attempt started")

	return s.describe(ctx, attempt, false)
}

// Resume returns the session of an attempt that has not been submitted yet.
func (s *AttemptService) Resume(ctx context.Context, attemptID uuid.UUID, userID int) (*model.AttemptSession, error) {
	attempt, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusStarted {
		return nil, errAlreadySubmitted
	}
	return s.describe(ctx, attempt, true)
}

func (s *AttemptService) describe(ctx context.Context, a *model.Attempt, resumed bool) (*model.AttemptSession, error) {
	n := len(a.Snapshot.Questions)
	sess := &model.AttemptSession{
		AttemptID:          a.ID,
		ExamID:             a.ExamID,
		AttemptNumber:      a.AttemptNumber,
		Paper:              a.Snapshot.Paper(),
		DurationSeconds:    a.Snapshot.DurationSeconds(),
		RemainingSeconds:   a.RemainingSeconds(s.now()),
		ViolationThreshold: s.cfg.ViolationThreshold,
		Answers:            make([]*int, n),
		StartedAt:          a.StartedAt,
		ExpiresAt:          a.ExpiresAt,
		Resumed:            resumed,
	}
	if !resumed {
		return sess, nil
	}

	answers, err := s.loadAnswers(ctx, a.ID, n)
	if err != nil {
		return nil, err
	}
	sess.Answers = answers
	sess.Violations = s.violationCount(ctx, a.ID)
	return sess, nil
}

// ─── Checkpoints & integrity ─────────────────────────────────

// Checkpoint stores one answer slot. A nil option clears the slot.
func (s *AttemptService) Checkpoint(ctx context.Context, attemptID uuid.UUID, userID, slot int, option *int) error {
	attempt, err := s.loadOpen(ctx, attemptID, userID)
	if err != nil {
		return err
	}

	questions := attempt.Snapshot.Questions
	if slot < 0 || slot >= len(questions) {
		return ErrSlotOutOfRange
	}
	value := clearedSlot
	if option != nil {
		if *option < 0 || *option >= len(questions[slot].Options) {
			return fmt.Errorf("%w: question %d has no option %d", scoring.ErrIndexOutOfRange, slot, *option)
		}
		value = strconv.Itoa(*option)
	}

	job, err := json.Marshal(model.CheckpointJob{
		AttemptID:      attemptID,
		Slot:           slot,
		SelectedOption: option,
		UpdatedAt:      s.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(slot), value)
	pipe.Expire(ctx, key, s.cfg.CheckpointTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistCheckpointsQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

// RecordViolation counts one integrity signal for the attempt.
func (s *AttemptService) RecordViolation(ctx context.Context, attemptID uuid.UUID, userID int, kind model.ViolationKind) (*model.ViolationStatus, error) {
	attempt, err := s.loadOpen(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	key := config.CacheKey.AttemptViolationsKey(attemptID.String())
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("count violation: %w", err)
	}
	s.rdb.Expire(ctx, key, s.cfg.CheckpointTTL)

	event := model.IntegrityEvent{
		AttemptID:  attemptID,
		ExamID:     attempt.ExamID,
		UserID:     userID,
		Kind:       kind,
		Count:      int(count),
		RecordedAt: s.now(),
	}
	if payload, err := json.Marshal(event); err == nil {
		if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to queue integrity event")
		}
	}

	s.publish(ctx, attempt.ExamID, model.MonitorEvent{
		Type:       model.MonitorViolation,
		AttemptID:  attemptID,
		UserID:     userID,
		Violations: int(count),
	})

	status := &model.ViolationStatus{
		Count:            int(count),
		Threshold:        s.cfg.ViolationThreshold,
		ThresholdReached: int(count) >= s.cfg.ViolationThreshold,
	}
	s.log.Warn().
		Str("attempt_id", attemptID.String()).
		Str("kind", string(kind)).
		Int("count", status.Count).
		Bool("threshold_reached", status.ThresholdReached).
		Msg("Integrity violation recorded")
	return status, nil
}

// ─── Submit ──────────────────────────────────────────────────

// Submit scores the answers against the attempt's snapshot and stores the report.
// Submitting an attempt that already has a report returns that report.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, userID int, req *model.SubmitRequest, meta model.DeviceMeta) (*model.Report, error) {
	attempt, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	lockKey := config.CacheKey.AttemptSubmitLockKey(attemptID.String())
	acquired, err := s.rdb.SetNX(ctx, lockKey, userID, s.cfg.SubmitLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire submit lock: %w", err)
	}
	if !acquired {
		return nil, ErrSubmissionInProgress
	}
	defer s.rdb.Del(context.WithoutCancel(ctx), lockKey)

	if existing, err := s.reports.GetByAttempt(ctx, attemptID); err == nil {
		s.log.Info().Str("attempt_id", attemptID.String()).Msg("Duplicate submission, returning stored report")
		return existing, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check report: %w", err)
	}
	if attempt.Status != model.AttemptStatusStarted {
		return nil, errAlreadySubmitted
	}

	result, err := scoring.Score(attempt.Snapshot, req.Answers)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Submission rejected by scoring")
		return nil, err
	}

	now := s.now()
	measured := int(now.Sub(attempt.StartedAt).Seconds())
	timeTaken := measured
	if req.ElapsedSeconds > 0 && req.ElapsedSeconds < measured {
		timeTaken = req.ElapsedSeconds
	}
	late := now.After(attempt.ExpiresAt.Add(s.cfg.SubmitGrace))

	violations := s.violationCount(ctx, attemptID)
	if req.Violations > violations {
		violations = req.Violations
	}

	reason := req.Reason
	if reason == "" {
		reason = model.SubmitReasonManual
	}

	report := &model.Report{
		AttemptID:     attemptID,
		UserID:        userID,
		ExamID:        attempt.ExamID,
		ExamTitle:     attempt.Snapshot.Title,
		Answers:       result.Answers,
		Score:         result.Score,
		TotalMarks:    result.TotalMarks,
		Percentage:    result.Percentage,
		Passed:        result.Passed,
		TimeTaken:     timeTaken,
		CompletedAt:   now,
		AttemptNumber: attempt.AttemptNumber,
		IPAddress:     meta.IPAddress,
		DeviceInfo:    meta.DeviceInfo,
		Forced:        reason.Forced(),
		SubmitReason:  reason,
		Violations:    violations,
		Late:          late,
	}

	if _, err := s.reports.Persist(ctx, report); err != nil {
		if errors.Is(err, repository.ErrReportExists) {
			return s.reports.GetByAttempt(ctx, attemptID)
		}
		s.log.Error().
			Err(err).
			Str("attempt_id", attemptID.String()).
			Int("user_id", userID).
			Msg("Failed to persist report")
		return nil, ErrPersistence
	}

	if late {
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("measured_seconds", measured).
			Int("duration_seconds", attempt.Snapshot.DurationSeconds()).
			Msg("Late submission accepted")
	}

	s.afterSubmit(ctx, report)

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("report_id", report.ID.String()).
		Int("score", report.Score).
		Int("total_marks", report.TotalMarks).
		Bool("passed", report.Passed).
		Str("reason", string(reason)).
		Msg("Attempt submitted")
	return report, nil
}

// afterSubmit drops the attempt's hot state and fans the result out. Failures
// here do not affect the stored report.
func (s *AttemptService) afterSubmit(ctx context.Context, rep *model.Report) {
	id := rep.AttemptID.String()

	job, _ := json.Marshal(model.StatsJob{
		ExamID:     rep.ExamID,
		Score:      rep.Score,
		Percentage: rep.Percentage,
		Passed:     rep.Passed,
	})

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx,
		config.CacheKey.AttemptSnapshotKey(id),
		config.CacheKey.AttemptAnswersKey(id),
		config.CacheKey.AttemptViolationsKey(id),
	)
	pipe.RPush(ctx, config.WorkerKey.ExamStatsQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", id).Msg("Post-submit cleanup failed")
	}

	score, passed := rep.Score, rep.Passed
	s.publish(ctx, rep.ExamID, model.MonitorEvent{
		Type:       model.MonitorAttemptSubmitted,
		AttemptID:  rep.AttemptID,
		UserID:     rep.UserID,
		Violations: rep.Violations,
		Score:      &score,
		Passed:     &passed,
		Forced:     rep.Forced,
	})
}

// CountPriorAttempts returns how many attempts the user has started at the exam.
func (s *AttemptService) CountPriorAttempts(ctx context.Context, userID int, examID uuid.UUID) (int, error) {
	return s.attempts.CountStarts(ctx, userID, examID)
}

// ─── Loading ─────────────────────────────────────────────────

func (s *AttemptService) loadOwned(ctx context.Context, attemptID uuid.UUID, userID int) (*model.Attempt, error) {
	attempt, err := s.loadAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, ErrForbidden
	}
	return attempt, nil
}

// loadOpen is loadOwned for writes that are only allowed before submission.
func (s *AttemptService) loadOpen(ctx context.Context, attemptID uuid.UUID, userID int) (*model.Attempt, error) {
	attempt, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusStarted {
		return nil, errAlreadySubmitted
	}
	if s.now().After(attempt.ExpiresAt.Add(s.cfg.SubmitGrace)) {
		return nil, errTimeUp
	}
	return attempt, nil
}

// loadAttempt reads the attempt from its Redis snapshot, falling back to PostgreSQL.
func (s *AttemptService) loadAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	key := config.CacheKey.AttemptSnapshotKey(attemptID.String())
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var cached cachedAttempt
		if err := json.Unmarshal(data, &cached); err == nil && cached.Snapshot != nil {
			a := cached.Attempt
			a.Snapshot = cached.Snapshot
			return &a, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Snapshot cache read failed")
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Snapshot == nil {
		return nil, fmt.Errorf("attempt %s has no snapshot", attemptID)
	}
	if attempt.Status == model.AttemptStatusStarted {
		s.cacheAttempt(ctx, attempt)
	}
	return attempt, nil
}

func (s *AttemptService) cacheAttempt(ctx context.Context, a *model.Attempt) {
	data, err := json.Marshal(cachedAttempt{Attempt: *a, Snapshot: a.Snapshot})
	if err != nil {
		return
	}
	ttl := time.Until(a.ExpiresAt) + s.cfg.CheckpointTTL
	if ttl <= 0 {
		ttl = s.cfg.CheckpointTTL
	}
	if err := s.rdb.Set(ctx, config.CacheKey.AttemptSnapshotKey(a.ID.String()), data, ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to cache attempt snapshot")
	}
}

// loadAnswers reads checkpointed slots from Redis, or from PostgreSQL when the hash is gone.
func (s *AttemptService) loadAnswers(ctx context.Context, attemptID uuid.UUID, n int) ([]*int, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Checkpoint cache read failed")
	}
	if len(raw) == 0 {
		answers, err := s.attempts.ListAnswers(ctx, attemptID, n)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		return answers, nil
	}

	answers := make([]*int, n)
	for field, value := range raw {
		slot, err := strconv.Atoi(field)
		if err != nil || slot < 0 || slot >= n || value == clearedSlot {
			continue
		}
		option, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		answers[slot] = &option
	}
	return answers, nil
}

func (s *AttemptService) violationCount(ctx context.Context, attemptID uuid.UUID) int {
	n, err := s.rdb.Get(ctx, config.CacheKey.AttemptViolationsKey(attemptID.String())).Int()
	if err != nil {
		return 0
	}
	return n
}

func (s *AttemptService) publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) {
	ev.At = s.now().Unix()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to publish monitor event")
	}
}
