package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live session activity of a test over SSE.
type MonitorHandler struct {
	testService    *service.TestService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(testService *service.TestService, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		testService:    testService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/manage/tests/:id/monitor
// Sends a snapshot, then forwards every monitor event and a periodic refresh.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := pathID(c, "id")
	if !ok {
		return
	}

	test, err := h.testService.GetManaged(c.Request.Context(), claims, testID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, test, "snapshot")

	pubsub := h.monitorService.Subscribe(reqCtx, test.ID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes until something has happened on the channel.
	active := false

	h.log.Info().Int("test_id", test.ID).Int("user_id", claims.UserID).Msg("Attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Int("test_id", test.ID).Msg("Detached from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payload is already JSON.
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write([]byte(msg.Payload))
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendSnapshot(c, reqCtx, test, "refresh")

		case <-keepAliveTicker.C:
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(pingPayload)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes the current live sessions as one SSE event.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parent context.Context, test *model.Test, kind string) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	sessions, err := h.monitorService.Snapshot(ctx, test.ID)
	if err != nil {
		h.log.Warn().Err(err).Int("test_id", test.ID).Msg("Failed to build monitor snapshot")
		sessions = []model.LiveSession{}
	}

	c.SSEvent("message", gin.H{
		"type": kind,
		"test": gin.H{
			"id":               test.ID,
			"title":            test.Title,
			"duration_minutes": test.DurationMinutes,
			"total_questions":  test.QuestionCount,
		},
		"sessions": sessions,
	})
	c.Writer.Flush()
}
