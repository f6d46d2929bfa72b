package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	ws "github.com/stemsi/exstem-cbt/internal/websocket"
)

// wsOpTimeout bounds each service call made on behalf of a socket message.
const wsOpTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler offers autosave, progress and submit over one WebSocket. It goes
// through the same SessionService rules as the REST endpoints.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:token/stream?token=<jwt>
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	token, ok := sessionToken(c)
	if !ok {
		return
	}

	// Reject before upgrading so the client gets a normal HTTP error.
	state, err := h.sessionService.Get(c.Request.Context(), claims.UserID, token)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if state.Status != model.SessionStatusInProgress {
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Int("session_id", state.ID).
		Logger()
	wsLog.Info().Msg("Session stream connected")

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		done := h.dispatch(conn, wsLog, claims.UserID, token, &msg)
		if done {
			return
		}
	}
}

// dispatch handles one message and reports whether the stream should end.
func (h *WSHandler) dispatch(conn *websocket.Conn, log zerolog.Logger, userID int, token string, msg *ws.Request) bool {
	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	switch msg.Action {
	case ws.ActionPing:
		_ = ws.WriteTyped(conn, ws.AckResponse{Event: ws.EventPong, Seq: msg.Seq})

	case ws.ActionAutosave:
		answer, err := h.sessionService.SubmitAnswer(ctx, userID, token, model.SubmitAnswerRequest{
			QuestionID:       msg.QuestionID,
			AnswerText:       msg.AnswerText,
			SelectedOptionID: msg.SelectedOptionID,
		})
		if err != nil {
			return h.writeErr(conn, log, msg.Seq, err)
		}
		_ = ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Seq: msg.Seq, Answer: *answer})

	case ws.ActionProgress:
		if msg.QuestionIndex == nil {
			_ = ws.WriteError(conn, msg.Seq, string(response.ErrValidation), "question_index is required")
			return false
		}
		if err := h.sessionService.UpdateProgress(ctx, userID, token, *msg.QuestionIndex); err != nil {
			return h.writeErr(conn, log, msg.Seq, err)
		}
		_ = ws.WriteTyped(conn, ws.AckResponse{Event: ws.EventProgress, Seq: msg.Seq})

	case ws.ActionSubmit:
		session, err := h.sessionService.Submit(ctx, userID, token)
		if err != nil {
			return h.writeErr(conn, log, msg.Seq, err)
		}
		_ = ws.WriteTyped(conn, ws.SubmittedResponse{
			Event:     ws.EventSubmitted,
			Seq:       msg.Seq,
			SessionID: session.ID,
			Status:    session.Status,
		})
		return true

	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		_ = ws.WriteError(conn, msg.Seq, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}
	return false
}

// writeErr reports err to the client. A session that is no longer active
// ends the stream.
func (h *WSHandler) writeErr(conn *websocket.Conn, log zerolog.Logger, seq int64, err error) bool {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Session stream operation failed")
	}
	_ = ws.WriteError(conn, seq, string(code), response.GetMessage(code))
	return code == response.ErrSessionNotActive
}
