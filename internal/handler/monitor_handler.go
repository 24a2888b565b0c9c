package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/staff/exams/:id/monitor
// Streams a progress snapshot, then live attempt events from Redis Pub/Sub.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := paramID(c, "id")
	if !ok {
		return
	}
	actor := claims.Actor()
	reqCtx := c.Request.Context()

	// Authorization and the first snapshot both come from GetProgress, so
	// errors still get a normal JSON envelope.
	fetchCtx, cancel := context.WithTimeout(reqCtx, refreshTimeout)
	progress, err := h.monitorService.GetProgress(fetchCtx, actor, examID)
	cancel()
	if err != nil {
		fail(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("message", gin.H{"type": "snapshot", "data": progress})
	c.Writer.Flush()

	pubsub := h.monitorService.Subscribe(reqCtx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refresh queries until something has happened on the channel.
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Int("user_id", actor.UserID).Msg("Staff attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Staff disconnected from live monitor SSE")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendRefresh(c, reqCtx, actor, examID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, actor service.Actor, examID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetProgress(ctx, actor, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to refresh exam progress")
		return
	}

	c.SSEvent("message", gin.H{"type": "refresh", "data": progress})
	c.Writer.Flush()
}
