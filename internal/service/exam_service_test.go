package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
)

var (
	admin   = Actor{UserID: 1, Role: model.RoleAdmin}
	author  = Actor{UserID: 100, Role: model.RoleTeacher}
	teacher = Actor{UserID: 200, Role: model.RoleTeacher}
	student = Actor{UserID: 7, Role: model.RoleStudent}
)

func newExamFixture(t *testing.T, exams ...*model.Exam) (*ExamService, *stubExamStore, *stubAttemptStore) {
	t.Helper()
	_, rdb := newRedis(t)
	store := newStubExamStore(exams...)
	attempts := newStubAttemptStore()
	svc := NewExamService(store, attempts, rdb, testLog)
	svc.now = func() time.Time { return clock }
	return svc, store, attempts
}

func TestGetExamUsesCache(t *testing.T) {
	exam := fiveQuestionExam()
	svc, store, _ := newExamFixture(t, exam)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.GetExam(ctx, exam.ID)
		if err != nil {
			t.Fatalf("GetExam: %v", err)
		}
		if len(got.Questions) != 5 || !got.Questions[0].Options[0].IsCorrect {
			t.Fatalf("cached exam lost its answer key: %+v", got.Questions[0])
		}
	}
	if store.Gets != 1 {
		t.Fatalf("database reads=%d, want 1", store.Gets)
	}

	if _, err := svc.GetExam(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown exam: %v", err)
	}
}

func TestGetPaperHidesInactiveExams(t *testing.T) {
	exam := fiveQuestionExam()
	exam.IsActive = false
	svc, _, _ := newExamFixture(t, exam)

	if _, err := svc.GetPaper(context.Background(), exam.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestGetActiveExamsForReportsUsage(t *testing.T) {
	open := fiveQuestionExam()
	upcoming := fiveQuestionExam()
	upcoming.StartDate = clock.Add(time.Hour)
	upcoming.EndDate = clock.Add(2 * time.Hour)
	closed := fiveQuestionExam()
	closed.EndDate = clock.Add(-time.Minute)
	closed.StartDate = clock.Add(-2 * time.Hour)

	svc, _, attempts := newExamFixture(t, open, upcoming, closed)
	desc := &model.SessionDescriptor{Snapshot: open, DurationSeconds: 600}
	if _, err := attempts.CreateWithQuota(context.Background(), open.ID, 7, clock, func(int) (*model.SessionDescriptor, error) {
		return desc, nil
	}); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	lobby, err := svc.GetActiveExamsFor(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetActiveExamsFor: %v", err)
	}
	if len(lobby) != 2 {
		t.Fatalf("lobby has %d exams, want 2", len(lobby))
	}
	for _, e := range lobby {
		if e.Questions != nil {
			t.Fatal("lobby entry carries questions")
		}
		switch e.ID {
		case open.ID:
			if e.AttemptsUsed != 1 || e.AttemptsRemaining != 1 || e.ActiveAttemptID == nil || e.Upcoming {
				t.Fatalf("open exam=%+v", e)
			}
		case upcoming.ID:
			if e.AttemptsUsed != 0 || e.AttemptsRemaining != 2 || !e.Upcoming {
				t.Fatalf("upcoming exam=%+v", e)
			}
		default:
			t.Fatalf("unexpected exam %s in lobby", e.ID)
		}
	}
}

func createRequest() *model.CreateExamRequest {
	return &model.CreateExamRequest{
		Title:           "Chemistry quiz",
		Subject:         "Chemistry",
		DurationMinutes: 20,
		TotalMarks:      3,
		PassingMarks:    2,
		StartDate:       clock,
		EndDate:         clock.Add(24 * time.Hour),
		Questions: []model.QuestionInput{
			{Prompt: "H2O?", Type: model.QuestionTypeMultipleChoice, Points: 2, Options: []model.OptionInput{{Text: "water", IsCorrect: true}, {Text: "salt"}}},
			{Prompt: "Explain pH", Type: model.QuestionTypeShortAnswer, Points: 1},
		},
	}
}

func TestCreateExam(t *testing.T) {
	svc, store, _ := newExamFixture(t)

	exam, err := svc.Create(context.Background(), author, createRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if exam.AuthorID != author.UserID || exam.MaxAttempts != 1 || !exam.IsActive {
		t.Fatalf("exam=%+v", exam)
	}
	if _, ok := store.Exams[exam.ID]; !ok {
		t.Fatal("exam not stored")
	}
}

func TestCreateExamRejectsBrokenInvariants(t *testing.T) {
	svc, store, _ := newExamFixture(t)

	req := createRequest()
	req.TotalMarks = 10
	_, err := svc.Create(context.Background(), author, req)

	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrInvalidExam) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := verr.Fields["total_marks"]; !ok {
		t.Fatalf("fields=%v", verr.Fields)
	}
	if len(store.Exams) != 0 {
		t.Fatal("invalid exam stored")
	}
}

func TestUpdateExamAuthorization(t *testing.T) {
	exam := fiveQuestionExam()
	svc, _, _ := newExamFixture(t, exam)
	title := &model.UpdateExamRequest{Title: "Biology final"}

	if _, err := svc.Update(context.Background(), teacher, exam.ID, title); !errors.Is(err, ErrNotExamAuthor) {
		t.Fatalf("other teacher: %v", err)
	}
	if _, err := svc.Update(context.Background(), student, exam.ID, title); !errors.Is(err, ErrNotExamAuthor) {
		t.Fatalf("student: %v", err)
	}

	for _, actor := range []Actor{author, admin} {
		got, err := svc.Update(context.Background(), actor, exam.ID, title)
		if err != nil {
			t.Fatalf("%v: %v", actor.Role, err)
		}
		if got.Title != "Biology final" {
			t.Fatalf("title=%q", got.Title)
		}
	}
}

func TestUpdateExamValidatesResult(t *testing.T) {
	exam := fiveQuestionExam()
	svc, _, _ := newExamFixture(t, exam)

	passing := 9
	_, err := svc.Update(context.Background(), author, exam.ID, &model.UpdateExamRequest{PassingMarks: &passing})
	if !errors.Is(err, ErrInvalidExam) {
		t.Fatalf("err=%v", err)
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	exam := fiveQuestionExam()
	svc, store, _ := newExamFixture(t, exam)
	ctx := context.Background()

	if _, err := svc.GetExam(ctx, exam.ID); err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if _, err := svc.Update(ctx, author, exam.ID, &model.UpdateExamRequest{Title: "Renamed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if svc.rdb.Exists(ctx, config.CacheKey.ExamKey(exam.ID.String())).Val() != 0 {
		t.Fatal("exam cache not invalidated")
	}

	got, _ := svc.GetExam(ctx, exam.ID)
	if got.Title != "Renamed" {
		t.Fatalf("title=%q", got.Title)
	}
	if store.Gets < 2 {
		t.Fatalf("gets=%d", store.Gets)
	}
}

func TestReplaceQuestionsRecomputesTotal(t *testing.T) {
	exam := fiveQuestionExam()
	svc, store, _ := newExamFixture(t, exam)

	req := &model.ReplaceQuestionsRequest{Questions: []model.QuestionInput{
		{Prompt: "A?", Type: model.QuestionTypeTrueFalse, Points: 2, Options: []model.OptionInput{{Text: "true", IsCorrect: true}, {Text: "false"}}},
		{Prompt: "B?", Type: model.QuestionTypeMultipleChoice, Points: 4, Options: []model.OptionInput{{Text: "x"}, {Text: "y", IsCorrect: true}}},
	}}
	got, err := svc.ReplaceQuestions(context.Background(), author, exam.ID, req)
	if err != nil {
		t.Fatalf("ReplaceQuestions: %v", err)
	}
	if got.TotalMarks != 6 || len(store.Replaced[exam.ID]) != 2 || store.Replaced[exam.ID][1].Position != 1 {
		t.Fatalf("total=%d replaced=%+v", got.TotalMarks, store.Replaced[exam.ID])
	}

	noKey := &model.ReplaceQuestionsRequest{Questions: []model.QuestionInput{
		{Prompt: "A?", Type: model.QuestionTypeMultipleChoice, Points: 1, Options: []model.OptionInput{{Text: "x"}, {Text: "y"}}},
	}}
	if _, err := svc.ReplaceQuestions(context.Background(), author, exam.ID, noKey); !errors.Is(err, ErrInvalidExam) {
		t.Fatalf("no correct option: %v", err)
	}
}

func TestDeleteExam(t *testing.T) {
	used := fiveQuestionExam()
	unused := fiveQuestionExam()
	svc, store, _ := newExamFixture(t, used, unused)
	store.InUse[used.ID] = true

	if err := svc.Delete(context.Background(), author, used.ID); !errors.Is(err, ErrExamInUse) {
		t.Fatalf("used exam: %v", err)
	}
	if err := svc.Delete(context.Background(), teacher, unused.ID); !errors.Is(err, ErrNotExamAuthor) {
		t.Fatalf("other teacher: %v", err)
	}
	if err := svc.Delete(context.Background(), author, unused.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(store.Deleted) != 1 || store.Deleted[0] != unused.ID {
		t.Fatalf("deleted=%v", store.Deleted)
	}
	if err := svc.Delete(context.Background(), author, unused.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListForStaffScopesTeachers(t *testing.T) {
	mine := fiveQuestionExam()
	theirs := fiveQuestionExam()
	theirs.AuthorID = teacher.UserID
	svc, _, _ := newExamFixture(t, mine, theirs)

	exams, page, err := svc.ListForStaff(context.Background(), author, 1, 10)
	if err != nil {
		t.Fatalf("ListForStaff: %v", err)
	}
	if len(exams) != 1 || exams[0].ID != mine.ID || page.TotalItems != 1 {
		t.Fatalf("teacher sees %d exams", len(exams))
	}

	exams, _, _ = svc.ListForStaff(context.Background(), admin, 0, 0)
	if len(exams) != 2 {
		t.Fatalf("admin sees %d exams", len(exams))
	}
}

func TestPrewarmActive(t *testing.T) {
	active := fiveQuestionExam()
	inactive := fiveQuestionExam()
	inactive.IsActive = false
	svc, _, _ := newExamFixture(t, active, inactive)
	ctx := context.Background()

	if err := svc.PrewarmActive(ctx); err != nil {
		t.Fatalf("PrewarmActive: %v", err)
	}
	if svc.rdb.Exists(ctx, config.CacheKey.ExamKey(active.ID.String())).Val() != 1 {
		t.Fatal("active exam not warmed")
	}
	if svc.rdb.Exists(ctx, config.CacheKey.ExamKey(inactive.ID.String())).Val() != 0 {
		t.Fatal("inactive exam warmed")
	}
}
