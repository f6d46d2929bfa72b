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

// ManageHandler serves the teacher/admin authoring and reporting endpoints.
type ManageHandler struct {
	testService    *service.TestService
	resultService  *service.ResultService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewManageHandler creates a new ManageHandler.
func NewManageHandler(
	testService *service.TestService,
	resultService *service.ResultService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *ManageHandler {
	return &ManageHandler{
		testService:    testService,
		resultService:  resultService,
		monitorService: monitorService,
		log:            log.With().Str("component", "manage_handler").Logger(),
	}
}

// managedTest resolves the :id test and checks the caller may manage it.
func (h *ManageHandler) managedTest(c *gin.Context) (*service.Claims, *model.Test, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, nil, false
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil, nil, false
	}
	test, err := h.testService.GetManaged(c.Request.Context(), claims, id)
	if err != nil {
		failFromError(c, h.log, err)
		return nil, nil, false
	}
	return claims, test, true
}

// List godoc
// GET /api/v1/manage/tests
func (h *ManageHandler) List(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	tests, err := h.testService.ListManaged(c.Request.Context(), claims)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, tests)
}

// Create godoc
// POST /api/v1/manage/tests
func (h *ManageHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	test, err := h.testService.Create(c.Request.Context(), claims, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, test)
}

// Update godoc
// PUT /api/v1/manage/tests/:id
func (h *ManageHandler) Update(c *gin.Context) {
	claims, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	var req model.UpdateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	updated, err := h.testService.Update(c.Request.Context(), claims, test.ID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, updated)
}

// Activate godoc
// POST /api/v1/manage/tests/:id/activate
func (h *ManageHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate godoc
// POST /api/v1/manage/tests/:id/deactivate
func (h *ManageHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *ManageHandler) setActive(c *gin.Context, active bool) {
	claims, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	updated, err := h.testService.SetActive(c.Request.Context(), claims, test.ID, active)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	h.log.Info().Int("test_id", test.ID).Bool("active", active).Int("by", claims.UserID).Msg("Test availability changed")
	response.Success(c, http.StatusOK, updated)
}

// AddQuestion godoc
// POST /api/v1/manage/tests/:id/questions
func (h *ManageHandler) AddQuestion(c *gin.Context) {
	claims, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	var req model.AddQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.testService.AddQuestion(c.Request.Context(), claims, test.ID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, q)
}

// Questions godoc
// GET /api/v1/manage/tests/:id/questions
// Returns questions with correctness data.
func (h *ManageHandler) Questions(c *gin.Context) {
	claims, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	questions, err := h.testService.ManagedQuestions(c.Request.Context(), claims, test.ID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, questions)
}

// Results godoc
// GET /api/v1/manage/tests/:id/results
func (h *ManageHandler) Results(c *gin.Context) {
	_, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	results, err := h.resultService.ListByTest(c.Request.Context(), test.ID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// Statistics godoc
// GET /api/v1/manage/tests/:id/statistics
func (h *ManageHandler) Statistics(c *gin.Context) {
	_, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	stats, err := h.resultService.Statistics(c.Request.Context(), test.ID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// LiveSessions godoc
// GET /api/v1/manage/tests/:id/sessions
func (h *ManageHandler) LiveSessions(c *gin.Context) {
	_, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	sessions, err := h.monitorService.Snapshot(c.Request.Context(), test.ID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sessions)
}

// Delete godoc
// DELETE /api/v1/manage/tests/:id
func (h *ManageHandler) Delete(c *gin.Context) {
	claims, test, ok := h.managedTest(c)
	if !ok {
		return
	}

	if err := h.testService.Delete(c.Request.Context(), claims, test.ID); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "test deleted successfully"})
}

// ─── Question editing ──────────────────────────────────────────────────────

// managedQuestion resolves :id and :questionId for a question route.
func (h *ManageHandler) managedQuestion(c *gin.Context) (*service.Claims, int, int, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, 0, 0, false
	}
	testID, ok := pathID(c, "id")
	if !ok {
		return nil, 0, 0, false
	}
	questionID, ok := pathID(c, "questionId")
	if !ok {
		return nil, 0, 0, false
	}
	return claims, testID, questionID, true
}

// Question godoc
// GET /api/v1/manage/tests/:id/questions/:questionId
func (h *ManageHandler) Question(c *gin.Context) {
	claims, testID, questionID, ok := h.managedQuestion(c)
	if !ok {
		return
	}

	q, err := h.testService.ManagedQuestion(c.Request.Context(), claims, testID, questionID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, q)
}

// UpdateQuestion godoc
// PUT /api/v1/manage/tests/:id/questions/:questionId
func (h *ManageHandler) UpdateQuestion(c *gin.Context) {
	claims, testID, questionID, ok := h.managedQuestion(c)
	if !ok {
		return
	}

	var req model.UpdateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.testService.UpdateQuestion(c.Request.Context(), claims, testID, questionID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, q)
}

// DeleteQuestion godoc
// DELETE /api/v1/manage/tests/:id/questions/:questionId
func (h *ManageHandler) DeleteQuestion(c *gin.Context) {
	claims, testID, questionID, ok := h.managedQuestion(c)
	if !ok {
		return
	}

	if err := h.testService.DeleteQuestion(c.Request.Context(), claims, testID, questionID); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "question deleted successfully"})
}

// AddOption godoc
// POST /api/v1/manage/tests/:id/questions/:questionId/options
func (h *ManageHandler) AddOption(c *gin.Context) {
	claims, testID, questionID, ok := h.managedQuestion(c)
	if !ok {
		return
	}

	var req model.OptionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	o, err := h.testService.AddOption(c.Request.Context(), claims, testID, questionID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, o)
}

// UpdateOption godoc
// PUT /api/v1/manage/tests/:id/questions/:questionId/options/:optionId
func (h *ManageHandler) UpdateOption(c *gin.Context) {
	claims, testID, questionID, ok := h.managedQuestion(c)
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}

	var req model.OptionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	o, err := h.testService.UpdateOption(c.Request.Context(), claims, testID, questionID, optionID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, o)
}

// DeleteOption godoc
// DELETE /api/v1/manage/tests/:id/questions/:questionId/options/:optionId
func (h *ManageHandler) DeleteOption(c *gin.Context) {
	claims, testID, questionID, ok := h.managedQuestion(c)
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}

	if err := h.testService.DeleteOption(c.Request.Context(), claims, testID, questionID, optionID); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "option deleted successfully"})
}

// AddAcceptedAnswer godoc
// POST /api/v1/manage/tests/:id/questions/:questionId/answers
func (h *ManageHandler) AddAcceptedAnswer(c *gin.Context) {
	claims, testID, questionID, ok := h.managedQuestion(c)
	if !ok {
		return
	}

	var req model.AddAcceptedAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.testService.AddAcceptedAnswer(c.Request.Context(), claims, testID, questionID, req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, a)
}
