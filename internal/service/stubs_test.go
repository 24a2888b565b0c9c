package service

import (
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository/memory"
)

var testLog = zerolog.New(io.Discard)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		BcryptCost:         4,
		ViolationThreshold: 3,
		SubmitGrace:        time.Minute,
		SubmitLockTTL:      30 * time.Second,
		CheckpointTTL:      24 * time.Hour,
		LoginMaxAttempts:   3,
		LoginLockout:       15 * time.Minute,
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type (
	stubExamStore    = memory.ExamStore
	stubAttemptStore = memory.AttemptStore
	stubReportStore  = memory.ReportStore
	stubUserStore    = memory.UserStore
)

func newStubExamStore(exams ...*model.Exam) *stubExamStore { return memory.NewExamStore(exams...) }
func newStubAttemptStore() *stubAttemptStore               { return memory.NewAttemptStore() }
func newStubReportStore(a *stubAttemptStore) *stubReportStore {
	return memory.NewReportStore(a)
}
func newStubUserStore() *stubUserStore { return memory.NewUserStore() }
