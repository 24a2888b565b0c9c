package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
)

// MonitorStore reads live attempt state for the monitor.
type MonitorStore interface {
	LiveAttempts(ctx context.Context, examID uuid.UUID, now time.Time) ([]repository.LiveAttempt, error)
	AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error)
	ViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error)
}

// MonitorService orchestrates live exam monitoring.
type MonitorService struct {
	monitor MonitorStore
	reports *ReportService
	rdb     *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitor MonitorStore, reports *ReportService, rdb *redis.Client) *MonitorService {
	return &MonitorService{monitor: monitor, reports: reports, rdb: rdb}
}

// AttemptProgress is one live attempt with its answered and violation counts.
type AttemptProgress struct {
	repository.LiveAttempt
	Answered   int64 `json:"answered"`
	Violations int64 `json:"violations"`
}

// ExamProgress is the initial monitor snapshot of an exam.
type ExamProgress struct {
	ExamID  uuid.UUID         `json:"exam_id"`
	Live    []AttemptProgress `json:"live"`
	Stats   *model.ExamStats  `json:"stats"`
	TakenAt time.Time         `json:"taken_at"`
}

// GetProgress returns live attempts and aggregate stats. The three reads run
// concurrently; violation counts are best-effort.
func (s *MonitorService) GetProgress(ctx context.Context, actor Actor, examID uuid.UUID) (*ExamProgress, error) {
	stats, err := s.reports.Stats(ctx, actor, examID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var (
		live          []repository.LiveAttempt
		answered      map[uuid.UUID]int64
		violations    map[uuid.UUID]int64
		liveErr       error
		answeredErr   error
		violationsErr error
		wg            sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		live, liveErr = s.monitor.LiveAttempts(ctx, examID, now)
	}()
	go func() {
		defer wg.Done()
		answered, answeredErr = s.monitor.AnsweredCounts(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		violations, violationsErr = s.monitor.ViolationCounts(ctx, examID)
	}()
	wg.Wait()

	if liveErr != nil {
		return nil, liveErr
	}
	if answeredErr != nil {
		return nil, answeredErr
	}
	if violationsErr != nil {
		violations = nil
	}

	progress := &ExamProgress{
		ExamID:  examID,
		Live:    make([]AttemptProgress, 0, len(live)),
		Stats:   stats,
		TakenAt: now,
	}
	for _, a := range live {
		progress.Live = append(progress.Live, AttemptProgress{
			LiveAttempt: a,
			Answered:    answered[a.AttemptID],
			Violations:  violations[a.AttemptID],
		})
	}
	return progress, nil
}

// Subscribe opens the exam's monitor channel. The caller must close it.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
