// Package memory holds map-backed stores with the same contracts as the
// PostgreSQL repositories. The server runs on them with STORAGE=memory and
// the tests use them as fixtures. Lookups that miss return pgx.ErrNoRows and
// duplicate keys return a 23505 *pgconn.PgError, so services cannot tell the
// two apart. The exported fields expose state for tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
)

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// CloneExam deep-copies an exam so stored state cannot be mutated through a result.
func CloneExam(e *model.Exam) *model.Exam {
	c := *e
	c.Questions = make([]model.Question, len(e.Questions))
	for i, q := range e.Questions {
		q.Options = append([]model.Option(nil), q.Options...)
		c.Questions[i] = q
	}
	return &c
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// ─── Exams ───────────────────────────────────────────────────

type ExamStore struct {
	mu        sync.Mutex
	Exams     map[uuid.UUID]*model.Exam
	InUse     map[uuid.UUID]bool
	Replaced  map[uuid.UUID][]model.Question
	Deleted   []uuid.UUID
	Gets      int
	UpdateErr error

	attempts *AttemptStore
}

func NewExamStore(exams ...*model.Exam) *ExamStore {
	s := &ExamStore{
		Exams:    make(map[uuid.UUID]*model.Exam),
		InUse:    make(map[uuid.UUID]bool),
		Replaced: make(map[uuid.UUID][]model.Question),
	}
	for _, e := range exams {
		s.Exams[e.ID] = e
	}
	return s
}

// WithAttempts makes HasAttempts consult attempts as well as InUse.
func (s *ExamStore) WithAttempts(attempts *AttemptStore) *ExamStore {
	s.attempts = attempts
	return s
}

func (s *ExamStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	e, ok := s.Exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return CloneExam(e), nil
}

func (s *ExamStore) ListActive(ctx context.Context, now time.Time) ([]model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Exam{}
	for _, e := range s.Exams {
		if e.IsActive && !e.EndDate.Before(now) {
			out = append(out, e.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *ExamStore) ListByAuthorPaginated(ctx context.Context, authorID, limit, offset int) ([]model.Exam, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Exam
	for _, e := range s.Exams {
		if authorID == 0 || e.AuthorID == authorID {
			out = append(out, e.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

func (s *ExamStore) Create(ctx context.Context, e *model.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	e.ID = uuid.New()
	e.CreatedAt, e.UpdatedAt = now, now
	for i := range e.Questions {
		e.Questions[i].ID = uuid.New()
		e.Questions[i].ExamID = e.ID
	}
	s.Exams[e.ID] = CloneExam(e)
	return nil
}

func (s *ExamStore) Update(ctx context.Context, e *model.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.Exams[e.ID]; !ok {
		return pgx.ErrNoRows
	}
	e.UpdatedAt = time.Now()
	s.Exams[e.ID] = CloneExam(e)
	return nil
}

func (s *ExamStore) ReplaceQuestions(ctx context.Context, examID uuid.UUID, totalMarks int, questions []model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Exams[examID]
	if !ok {
		return pgx.ErrNoRows
	}
	for i := range questions {
		questions[i].ID = uuid.New()
		questions[i].ExamID = examID
	}
	e.TotalMarks = totalMarks
	e.Questions = append([]model.Question(nil), questions...)
	s.Replaced[examID] = questions
	return nil
}

func (s *ExamStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Exams[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.Exams, id)
	s.Deleted = append(s.Deleted, id)
	return nil
}

func (s *ExamStore) HasAttempts(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	inUse := s.InUse[id]
	s.mu.Unlock()
	if inUse || s.attempts == nil {
		return inUse, nil
	}
	n := 0
	s.attempts.mu.Lock()
	for _, a := range s.attempts.Attempts {
		if a.ExamID == id {
			n++
		}
	}
	s.attempts.mu.Unlock()
	return n > 0, nil
}

// ─── Attempts ────────────────────────────────────────────────

// AttemptStore serializes CreateWithQuota on its mutex, the way the SQL store
// does with an advisory lock.
type AttemptStore struct {
	mu          sync.Mutex
	Attempts    map[uuid.UUID]*model.Attempt
	Checkpoints map[uuid.UUID][]*int
	CreateErr   error
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		Attempts:    make(map[uuid.UUID]*model.Attempt),
		Checkpoints: make(map[uuid.UUID][]*int),
	}
}

func (s *AttemptStore) CreateWithQuota(ctx context.Context, examID uuid.UUID, userID int, now time.Time, authorize repository.AuthorizeFunc) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}

	prior := 0
	for _, a := range s.Attempts {
		if a.ExamID == examID && a.UserID == userID {
			prior++
		}
	}
	desc, err := authorize(prior)
	if err != nil {
		return nil, err
	}

	a := &model.Attempt{
		ID:            uuid.New(),
		ExamID:        examID,
		UserID:        userID,
		AttemptNumber: prior + 1,
		Status:        model.AttemptStatusStarted,
		Snapshot:      desc.Snapshot,
		StartedAt:     now,
		ExpiresAt:     now.Add(time.Duration(desc.DurationSeconds) * time.Second),
	}
	s.Attempts[a.ID] = a
	c := *a
	return &c, nil
}

func (s *AttemptStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *a
	return &c, nil
}

func (s *AttemptStore) FindActive(ctx context.Context, examID uuid.UUID, userID int, now time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.Attempts {
		if a.ExamID == examID && a.UserID == userID && a.Status == model.AttemptStatusStarted && a.ExpiresAt.After(now) {
			c := *a
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *AttemptStore) CountStarts(ctx context.Context, userID int, examID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.Attempts {
		if a.ExamID == examID && a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *AttemptStore) UsageByUser(ctx context.Context, userID int, now time.Time) (map[uuid.UUID]repository.AttemptUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage := make(map[uuid.UUID]repository.AttemptUsage)
	for _, a := range s.Attempts {
		if a.UserID != userID {
			continue
		}
		u := usage[a.ExamID]
		u.Started++
		if a.Status == model.AttemptStatusStarted && a.ExpiresAt.After(now) {
			id := a.ID
			u.ActiveID = &id
		}
		usage[a.ExamID] = u
	}
	return usage, nil
}

func (s *AttemptStore) ListAnswers(ctx context.Context, attemptID uuid.UUID, n int) ([]*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answers := make([]*int, n)
	copy(answers, s.Checkpoints[attemptID])
	return answers, nil
}

// UpsertCheckpoints applies a batch of checkpoint jobs in order.
func (s *AttemptStore) UpsertCheckpoints(ctx context.Context, jobs []model.CheckpointJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		s.upsertCheckpointLocked(j)
	}
	return nil
}

func (s *AttemptStore) UpsertCheckpoint(ctx context.Context, job model.CheckpointJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCheckpointLocked(job)
	return nil
}

func (s *AttemptStore) upsertCheckpointLocked(j model.CheckpointJob) {
	if _, ok := s.Attempts[j.AttemptID]; !ok {
		return
	}
	answers := s.Checkpoints[j.AttemptID]
	for len(answers) <= j.Slot {
		answers = append(answers, nil)
	}
	if j.SelectedOption != nil {
		v := *j.SelectedOption
		answers[j.Slot] = &v
	} else {
		answers[j.Slot] = nil
	}
	s.Checkpoints[j.AttemptID] = answers
}

// MarkSubmitted closes the attempt, as the report transaction does.
func (s *AttemptStore) MarkSubmitted(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.Attempts[id]; ok {
		a.Status = model.AttemptStatusSubmitted
		a.SubmittedAt = &at
	}
}

// ─── Reports ─────────────────────────────────────────────────

type ReportStore struct {
	mu          sync.Mutex
	attempts    *AttemptStore
	byID        map[uuid.UUID]*model.Report
	PersistErr  error
	Persisted   int
	StatsResult *model.ExamStats
	Folded      map[uuid.UUID]repository.StatsDelta
}

// NewReportStore closes attempts in the given store on Persist; attempts may be nil.
func NewReportStore(attempts *AttemptStore) *ReportStore {
	return &ReportStore{
		attempts: attempts,
		byID:     make(map[uuid.UUID]*model.Report),
		Folded:   make(map[uuid.UUID]repository.StatsDelta),
	}
}

// AddExamStats accumulates worker deltas into Folded. Stats still aggregates
// the stored reports, which the deltas always agree with.
func (s *ReportStore) AddExamStats(ctx context.Context, deltas []repository.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		pct, err := decimal.NewFromString(d.PercentageSum)
		if err != nil {
			return err
		}
		cur := s.Folded[d.ExamID]
		prev := decimal.Zero
		if cur.PercentageSum != "" {
			prev = decimal.RequireFromString(cur.PercentageSum)
		}
		cur.ExamID = d.ExamID
		cur.Attempts += d.Attempts
		cur.Passed += d.Passed
		cur.ScoreSum += d.ScoreSum
		cur.PercentageSum = prev.Add(pct).StringFixed(2)
		s.Folded[d.ExamID] = cur
	}
	return nil
}

func (s *ReportStore) Persist(ctx context.Context, rep *model.Report) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PersistErr != nil {
		return uuid.Nil, s.PersistErr
	}
	for _, r := range s.byID {
		if r.AttemptID == rep.AttemptID {
			return uuid.Nil, repository.ErrReportExists
		}
	}
	rep.ID = uuid.New()
	c := *rep
	s.byID[rep.ID] = &c
	s.Persisted++
	if s.attempts != nil {
		s.attempts.MarkSubmitted(rep.AttemptID, rep.CompletedAt)
	}
	return rep.ID, nil
}

func (s *ReportStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *r
	return &c, nil
}

func (s *ReportStore) GetByAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byID {
		if r.AttemptID == attemptID {
			c := *r
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *ReportStore) ListByUser(ctx context.Context, userID int, examID *uuid.UUID) ([]model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Report{}
	for _, r := range s.byID {
		if r.UserID == userID && (examID == nil || r.ExamID == *examID) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

func (s *ReportStore) ListByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.Report, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Report{}
	for _, r := range s.byID {
		if r.ExamID == examID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return page(out, limit, offset), len(out), nil
}

// Stats returns StatsResult when set, otherwise aggregates the stored reports.
func (s *ReportStore) Stats(ctx context.Context, examID uuid.UUID) (*model.ExamStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatsResult != nil {
		return s.StatsResult, nil
	}

	stats := &model.ExamStats{ExamID: examID}
	var scoreSum, pctSum float64
	for _, r := range s.byID {
		if r.ExamID != examID {
			continue
		}
		stats.Attempts++
		if r.Passed {
			stats.Passed++
		}
		scoreSum += float64(r.Score)
		pctSum += r.Percentage
	}
	if stats.Attempts > 0 {
		n := float64(stats.Attempts)
		stats.AverageScore = scoreSum / n
		stats.AveragePercentage = pctSum / n
		stats.PassRate = float64(stats.Passed) / n * 100
	}
	return stats, nil
}

// ─── Users ───────────────────────────────────────────────────

type UserStore struct {
	mu     sync.Mutex
	Users  map[string]*model.User
	nextID int
}

func NewUserStore() *UserStore {
	return &UserStore{Users: make(map[string]*model.User)}
}

func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := s.Users[u.Email]; ok {
		return uniqueViolation("users_email_key")
	}
	s.nextID++
	u.ID = s.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	c := *u
	s.Users[u.Email] = &c
	return nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *u
	return &c, nil
}

func (s *UserStore) GetByID(ctx context.Context, id int) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// ─── Monitor ─────────────────────────────────────────────────

// MonitorStore reads live attempts from an AttemptStore and keeps the
// integrity events the violation worker flushes.
type MonitorStore struct {
	Attempts *AttemptStore

	mu     sync.Mutex
	Events []model.IntegrityEvent
}

// NewMonitorStore creates a MonitorStore over attempts.
func NewMonitorStore(attempts *AttemptStore) *MonitorStore {
	return &MonitorStore{Attempts: attempts}
}

func (s *MonitorStore) LiveAttempts(ctx context.Context, examID uuid.UUID, now time.Time) ([]repository.LiveAttempt, error) {
	s.Attempts.mu.Lock()
	defer s.Attempts.mu.Unlock()
	var out []repository.LiveAttempt
	for _, a := range s.Attempts.Attempts {
		if a.ExamID != examID || a.Status != model.AttemptStatusStarted || !a.ExpiresAt.After(now) {
			continue
		}
		out = append(out, repository.LiveAttempt{
			AttemptID:     a.ID,
			UserID:        a.UserID,
			AttemptNumber: a.AttemptNumber,
			StartedAt:     a.StartedAt,
			ExpiresAt:     a.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MonitorStore) AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	s.Attempts.mu.Lock()
	defer s.Attempts.mu.Unlock()
	counts := make(map[uuid.UUID]int64)
	for id, answers := range s.Attempts.Checkpoints {
		if a, ok := s.Attempts.Attempts[id]; !ok || a.ExamID != examID {
			continue
		}
		for _, v := range answers {
			if v != nil {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (s *MonitorStore) ViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[uuid.UUID]int64)
	for _, ev := range s.Events {
		if ev.ExamID == examID {
			counts[ev.AttemptID]++
		}
	}
	return counts, nil
}

func (s *MonitorStore) CopyIntegrityEvents(ctx context.Context, events []model.IntegrityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, events...)
	return nil
}

func (s *MonitorStore) InsertIntegrityEvent(ctx context.Context, event model.IntegrityEvent) error {
	return s.CopyIntegrityEvents(ctx, []model.IntegrityEvent{event})
}
