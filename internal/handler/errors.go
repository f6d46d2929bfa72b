package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

// failFromError maps service and model errors onto the API error codes.
// Anything unrecognised is logged and reported as an internal error.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("route", c.FullPath()).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, model.ErrSessionNotActive):
		return http.StatusConflict, response.ErrSessionNotActive
	case errors.Is(err, model.ErrTestNotAvailable):
		return http.StatusForbidden, response.ErrTestNotAvailable
	case errors.Is(err, model.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity, response.ErrInvalidAnswer
	case errors.Is(err, service.ErrInvalidProgress):
		return http.StatusUnprocessableEntity, response.ErrInvalidProgress
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, service.ErrResultNotReady):
		return http.StatusConflict, response.ErrResultNotReady
	case errors.Is(err, service.ErrTestLocked):
		return http.StatusConflict, response.ErrTestHasSessions
	case errors.Is(err, service.ErrInvalidQuestion), errors.Is(err, service.ErrInvalidTest):
		return http.StatusUnprocessableEntity, response.ErrValidation
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

// sessionToken reads and shape-checks the :token path parameter.
func sessionToken(c *gin.Context) (string, bool) {
	token := c.Param("token")
	if !validator.IsSessionToken(token) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return "", false
	}
	return token, true
}
