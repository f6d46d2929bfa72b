package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// TestHandler serves tests and their student-facing questions.
type TestHandler struct {
	testService *service.TestService
	log         zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(testService *service.TestService, log zerolog.Logger) *TestHandler {
	return &TestHandler{
		testService: testService,
		log:         log.With().Str("component", "test_handler").Logger(),
	}
}

// ListAvailable godoc
// GET /api/v1/tests
func (h *TestHandler) ListAvailable(c *gin.Context) {
	tests, err := h.testService.ListAvailable(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, tests)
}

// Get godoc
// GET /api/v1/tests/:id
func (h *TestHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	test, err := h.testService.GetForStudent(c.Request.Context(), id)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, test)
}

// Questions godoc
// GET /api/v1/tests/:id/questions
// Returns questions without any correctness data.
func (h *TestHandler) Questions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	questions, err := h.testService.StudentQuestions(c.Request.Context(), id)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, questions)
}
