package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports dependency status, worker queue depths and runtime stats.
type HealthHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewHealthHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthReport struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`

	// Worker Queues
	QueueCheckpoints int64 `json:"queue_checkpoints"`
	QueueViolations  int64 `json:"queue_violations"`
	QueueStats       int64 `json:"queue_stats"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

// Health godoc
// GET /health
// 200 when Postgres and Redis answer, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	r := healthReport{
		Status:    "ok",
		Timestamp: time.Now().Unix(),
		Uptime:    formatDuration(time.Since(h.startTime)),
		Postgres:  "up",
		Redis:     "up",
		GoVersion: runtime.Version(),
	}

	if h.db == nil {
		r.Postgres = "disabled"
	} else if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Postgres health check failed")
		r.Postgres = "down"
		r.Status = "degraded"
	}

	// ── Worker Queues (pipelined LLEN) ──
	pipe := h.rdb.Pipeline()
	checkpointsCmd := pipe.LLen(ctx, config.WorkerKey.PersistCheckpointsQueue)
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	statsCmd := pipe.LLen(ctx, config.WorkerKey.ExamStatsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		r.Redis = "down"
		r.Status = "degraded"
	} else {
		r.QueueCheckpoints, _ = checkpointsCmd.Result()
		r.QueueViolations, _ = violationsCmd.Result()
		r.QueueStats, _ = statsCmd.Result()
	}

	// ── Go Runtime ──
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.Goroutines = runtime.NumGoroutine()
	r.HeapAlloc = ms.HeapAlloc
	r.NumGC = ms.NumGC

	status := http.StatusOK
	if r.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, r)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
