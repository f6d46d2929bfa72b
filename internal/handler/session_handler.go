package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

// SessionHandler exposes the session store endpoints. Session tokens are
// never logged.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/sessions/start
// Creates or resumes the caller's attempt. Returns remaining_time_seconds.
func (h *SessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessionService.Start(c.Request.Context(), claims.UserID, req.TestID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, state)
}

// Mine godoc
// GET /api/v1/sessions/my
func (h *SessionHandler) Mine(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessions, err := h.sessionService.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sessions)
}

// Get godoc
// GET /api/v1/sessions/:token
func (h *SessionHandler) Get(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	token, ok := sessionToken(c)
	if !ok {
		return
	}

	state, err := h.sessionService.Get(c.Request.Context(), claims.UserID, token)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// SubmitAnswer godoc
// POST /api/v1/sessions/:token/answers
// Upserts one answer. 409 SESSION_NOT_ACTIVE once the session is over.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	token, ok := sessionToken(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := h.sessionService.SubmitAnswer(c.Request.Context(), claims.UserID, token, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, answer)
}

// ListAnswers godoc
// GET /api/v1/sessions/:token/answers
func (h *SessionHandler) ListAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	token, ok := sessionToken(c)
	if !ok {
		return
	}

	answers, err := h.sessionService.ListAnswers(c.Request.Context(), claims.UserID, token)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, answers)
}

// UpdateProgress godoc
// PUT /api/v1/sessions/:token/progress
func (h *SessionHandler) UpdateProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	token, ok := sessionToken(c)
	if !ok {
		return
	}

	var req model.UpdateProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.UpdateProgress(c.Request.Context(), claims.UserID, token, *req.CurrentQuestionIndex); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.NoContent(c)
}

// Submit godoc
// POST /api/v1/sessions/:token/submit
// Idempotent; returns the finalized session.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	token, ok := sessionToken(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Submit(c.Request.Context(), claims.UserID, token)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}
