package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Test authoring errors.
var (
	ErrInvalidQuestion = errors.New("invalid question definition")
	ErrTestLocked      = errors.New("test already has sessions")
	ErrInvalidTest     = errors.New("passing marks exceed total marks")
	ErrNoQuestions     = errors.New("test has no questions")
)

// questionCacheTTL bounds how long a student question payload stays in Redis.
const questionCacheTTL = 10 * time.Minute

// TestService handles test lookup, authoring and the student question cache.
type TestService struct {
	testRepo     *repository.TestRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(
	testRepo *repository.TestRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *TestService {
	return &TestService{
		testRepo:     testRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "test_service").Logger(),
	}
}

// ListAvailable returns the tests a student can start now.
func (s *TestService) ListAvailable(ctx context.Context) ([]model.Test, error) {
	return s.testRepo.ListAvailable(ctx, time.Now())
}

// Get returns any test by ID.
func (s *TestService) Get(ctx context.Context, id int) (*model.Test, error) {
	t, err := s.testRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// GetForStudent returns a test visible to students. Inactive tests are hidden.
func (s *TestService) GetForStudent(ctx context.Context, id int) (*model.Test, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, model.ErrNotFound
	}
	return t, nil
}

// StudentQuestions returns the test's questions without correctness data.
// The payload is served from Redis and rebuilt on a miss.
func (s *TestService) StudentQuestions(ctx context.Context, testID int) ([]model.QuestionForStudent, error) {
	if _, err := s.GetForStudent(ctx, testID); err != nil {
		return nil, err
	}

	key := config.CacheKey.TestQuestionsKey(testID)
	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var cached []model.QuestionForStudent
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		s.log.Warn().Int("test_id", testID).Msg("Discarding unreadable question cache entry")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Int("test_id", testID).Msg("Question cache read failed")
	}

	questions, err := s.questionRepo.ListByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	out := make([]model.QuestionForStudent, len(questions))
	for i := range questions {
		out[i] = questions[i].ForStudent()
	}

	if raw, err := json.Marshal(out); err == nil {
		if err := s.rdb.Set(ctx, key, raw, questionCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Int("test_id", testID).Msg("Question cache write failed")
		}
	}
	return out, nil
}

// PrewarmQuestionCaches loads the student payload of every available test
// into Redis, so the first wave of test takers does not hit PostgreSQL.
func (s *TestService) PrewarmQuestionCaches(ctx context.Context) error {
	tests, err := s.ListAvailable(ctx)
	if err != nil {
		return fmt.Errorf("list available tests: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, t := range tests {
		g.Go(func() error {
			if _, err := s.StudentQuestions(gctx, t.ID); err != nil {
				return fmt.Errorf("test %d: %w", t.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Info().Int("tests", len(tests)).Msg("Question caches prewarmed")
	return nil
}

// ─── Authoring ─────────────────────────────────────────────────────────────

// ListManaged returns the tests the caller may manage.
func (s *TestService) ListManaged(ctx context.Context, claims *Claims) ([]model.Test, error) {
	createdBy := claims.UserID
	if claims.Role == model.RoleAdmin {
		createdBy = 0
	}
	return s.testRepo.ListByCreator(ctx, createdBy)
}

// GetManaged returns a test the caller owns (admins own every test).
func (s *TestService) GetManaged(ctx context.Context, claims *Claims, id int) (*model.Test, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claims.Role != model.RoleAdmin && t.CreatedBy != claims.UserID {
		return nil, model.ErrForbidden
	}
	return t, nil
}

// Create stores a new, inactive test authored by the caller.
func (s *TestService) Create(ctx context.Context, claims *Claims, req model.CreateTestRequest) (*model.Test, error) {
	t := &model.Test{
		Title:           req.Title,
		Description:     req.Description,
		Instructions:    req.Instructions,
		CreatedBy:       claims.UserID,
		DurationMinutes: req.DurationMinutes,
		TotalMarks:      req.TotalMarks,
		PassingMarks:    req.PassingMarks,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
	}
	if err := s.testRepo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}
	s.log.Info().Int("test_id", t.ID).Int("created_by", claims.UserID).Msg("Test created")
	return t, nil
}

// Update applies req to a managed test. Timing and marking cannot change once
// any session exists.
func (s *TestService) Update(ctx context.Context, claims *Claims, id int, req model.UpdateTestRequest) (*model.Test, error) {
	t, err := s.GetManaged(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	gradingChange := (req.DurationMinutes != 0 && req.DurationMinutes != t.DurationMinutes) ||
		(req.TotalMarks != 0 && req.TotalMarks != t.TotalMarks) ||
		(req.PassingMarks != nil && *req.PassingMarks != t.PassingMarks)
	if gradingChange {
		locked, err := s.testRepo.HasSessions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check sessions: %w", err)
		}
		if locked {
			return nil, ErrTestLocked
		}
	}

	if req.Title != "" {
		t.Title = req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Instructions != nil {
		t.Instructions = *req.Instructions
	}
	if req.DurationMinutes != 0 {
		t.DurationMinutes = req.DurationMinutes
	}
	if req.TotalMarks != 0 {
		t.TotalMarks = req.TotalMarks
	}
	if req.PassingMarks != nil {
		t.PassingMarks = *req.PassingMarks
	}
	if req.StartTime != nil {
		t.StartTime = req.StartTime
	}
	if req.EndTime != nil {
		t.EndTime = req.EndTime
	}
	if t.PassingMarks > t.TotalMarks {
		return nil, ErrInvalidTest
	}

	if err := s.testRepo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update test: %w", err)
	}
	return t, nil
}

// SetActive publishes or withdraws a managed test. A test without questions
// cannot be activated.
func (s *TestService) SetActive(ctx context.Context, claims *Claims, id int, active bool) (*model.Test, error) {
	t, err := s.GetManaged(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	if active && t.QuestionCount == 0 {
		return nil, ErrNoQuestions
	}
	if err := s.testRepo.SetActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	t.IsActive = active
	s.invalidateQuestions(ctx, id)
	return t, nil
}

// AddQuestion validates and stores a question on a managed test.
func (s *TestService) AddQuestion(ctx context.Context, claims *Claims, testID int, req model.AddQuestionRequest) (*model.Question, error) {
	if _, err := s.GetManaged(ctx, claims, testID); err != nil {
		return nil, err
	}
	if err := ValidateQuestion(req); err != nil {
		return nil, err
	}

	if err := s.ensureEditable(ctx, testID); err != nil {
		return nil, err
	}

	q := &model.Question{
		TestID:       testID,
		QuestionText: req.QuestionText,
		QuestionType: req.QuestionType,
		Marks:        req.Marks,
		OrderIndex:   req.OrderIndex,
	}
	for _, o := range req.Options {
		q.Options = append(q.Options, model.QuestionOption{OptionText: o.OptionText, IsCorrect: o.IsCorrect})
	}
	for _, a := range req.AcceptedAnswers {
		q.AcceptedAnswers = append(q.AcceptedAnswers, model.AcceptedAnswer{AnswerText: a.AnswerText, CaseSensitive: a.CaseSensitive})
	}

	if err := s.questionRepo.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	s.invalidateQuestions(ctx, testID)
	return q, nil
}

// Delete removes a managed test that has never been attempted.
func (s *TestService) Delete(ctx context.Context, claims *Claims, id int) error {
	if _, err := s.GetManaged(ctx, claims, id); err != nil {
		return err
	}
	if err := s.ensureEditable(ctx, id); err != nil {
		return err
	}
	if err := s.testRepo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return model.ErrNotFound
		case isForeignKeyViolation(err):
			// A session was created after the check above.
			return ErrTestLocked
		}
		return fmt.Errorf("delete test: %w", err)
	}
	s.invalidateQuestions(ctx, id)
	s.log.Info().Int("test_id", id).Int("by", claims.UserID).Msg("Test deleted")
	return nil
}

// ManagedQuestions returns the full questions, correctness included.
func (s *TestService) ManagedQuestions(ctx context.Context, claims *Claims, testID int) ([]model.Question, error) {
	if _, err := s.GetManaged(ctx, claims, testID); err != nil {
		return nil, err
	}
	return s.questionRepo.ListByTest(ctx, testID)
}

// ManagedQuestion returns one question of a managed test, correctness included.
func (s *TestService) ManagedQuestion(ctx context.Context, claims *Claims, testID, questionID int) (*model.Question, error) {
	if _, err := s.GetManaged(ctx, claims, testID); err != nil {
		return nil, err
	}
	return s.question(ctx, testID, questionID)
}

// UpdateQuestion edits the text, marks or position of a question.
func (s *TestService) UpdateQuestion(ctx context.Context, claims *Claims, testID, questionID int, req model.UpdateQuestionRequest) (*model.Question, error) {
	q, err := s.editableQuestion(ctx, claims, testID, questionID)
	if err != nil {
		return nil, err
	}
	if req.QuestionText != "" {
		q.QuestionText = req.QuestionText
	}
	if req.Marks != 0 {
		q.Marks = req.Marks
	}
	if req.OrderIndex != nil {
		q.OrderIndex = *req.OrderIndex
	}
	if err := s.questionRepo.Update(ctx, q); err != nil {
		return nil, s.questionErr("update question", err)
	}
	s.invalidateQuestions(ctx, testID)
	return q, nil
}

// DeleteQuestion removes a question from a test.
func (s *TestService) DeleteQuestion(ctx context.Context, claims *Claims, testID, questionID int) error {
	if _, err := s.editableQuestion(ctx, claims, testID, questionID); err != nil {
		return err
	}
	if err := s.questionRepo.Delete(ctx, testID, questionID); err != nil {
		return s.questionErr("delete question", err)
	}
	s.invalidateQuestions(ctx, testID)
	return nil
}

// AddOption appends an option to a choice question. The resulting option set
// must still be a valid question of its type.
func (s *TestService) AddOption(ctx context.Context, claims *Claims, testID, questionID int, req model.OptionRequest) (*model.QuestionOption, error) {
	q, err := s.editableQuestion(ctx, claims, testID, questionID)
	if err != nil {
		return nil, err
	}

	o := model.QuestionOption{
		QuestionID: questionID,
		OptionText: req.OptionText,
		IsCorrect:  req.IsCorrect,
		OrderIndex: len(q.Options),
	}
	if req.OrderIndex != nil {
		o.OrderIndex = *req.OrderIndex
	}
	if err := checkOptions(q.QuestionType, append(slices.Clone(q.Options), o)); err != nil {
		return nil, err
	}

	if err := s.questionRepo.AddOption(ctx, &o); err != nil {
		return nil, fmt.Errorf("add option: %w", err)
	}
	s.invalidateQuestions(ctx, testID)
	return &o, nil
}

// UpdateOption replaces an option. On a true/false question, marking an
// option correct unmarks the other one.
func (s *TestService) UpdateOption(ctx context.Context, claims *Claims, testID, questionID, optionID int, req model.OptionRequest) (*model.QuestionOption, error) {
	q, err := s.editableQuestion(ctx, claims, testID, questionID)
	if err != nil {
		return nil, err
	}

	exclusive := q.QuestionType == model.QuestionTypeTrueFalse && req.IsCorrect
	opts, updated, ok := replaceOption(q.Options, optionID, req, exclusive)
	if !ok {
		return nil, model.ErrNotFound
	}
	if err := checkOptions(q.QuestionType, opts); err != nil {
		return nil, err
	}

	if err := s.questionRepo.UpdateOption(ctx, &updated, exclusive); err != nil {
		return nil, s.questionErr("update option", err)
	}
	s.invalidateQuestions(ctx, testID)
	return &updated, nil
}

// DeleteOption removes an option, provided the question stays valid.
func (s *TestService) DeleteOption(ctx context.Context, claims *Claims, testID, questionID, optionID int) error {
	q, err := s.editableQuestion(ctx, claims, testID, questionID)
	if err != nil {
		return err
	}

	opts := slices.DeleteFunc(slices.Clone(q.Options), func(o model.QuestionOption) bool {
		return o.ID == optionID
	})
	if len(opts) == len(q.Options) {
		return model.ErrNotFound
	}
	if err := checkOptions(q.QuestionType, opts); err != nil {
		return err
	}

	if err := s.questionRepo.DeleteOption(ctx, questionID, optionID); err != nil {
		return s.questionErr("delete option", err)
	}
	s.invalidateQuestions(ctx, testID)
	return nil
}

// AddAcceptedAnswer adds an accepted text to a short-answer question.
func (s *TestService) AddAcceptedAnswer(ctx context.Context, claims *Claims, testID, questionID int, req model.AddAcceptedAnswerRequest) (*model.AcceptedAnswer, error) {
	q, err := s.editableQuestion(ctx, claims, testID, questionID)
	if err != nil {
		return nil, err
	}
	if q.QuestionType != model.QuestionTypeShortAnswer {
		return nil, ErrInvalidQuestion
	}

	a := model.AcceptedAnswer{
		QuestionID:    questionID,
		AnswerText:    req.AnswerText,
		CaseSensitive: req.CaseSensitive,
	}
	if err := s.questionRepo.AddAcceptedAnswer(ctx, &a); err != nil {
		return nil, fmt.Errorf("add accepted answer: %w", err)
	}
	s.invalidateQuestions(ctx, testID)
	return &a, nil
}

// ensureEditable rejects changes to a test that already has sessions.
func (s *TestService) ensureEditable(ctx context.Context, testID int) error {
	locked, err := s.testRepo.HasSessions(ctx, testID)
	if err != nil {
		return fmt.Errorf("check sessions: %w", err)
	}
	if locked {
		return ErrTestLocked
	}
	return nil
}

// editableQuestion resolves a question of a managed test that has no
// sessions yet.
func (s *TestService) editableQuestion(ctx context.Context, claims *Claims, testID, questionID int) (*model.Question, error) {
	if _, err := s.GetManaged(ctx, claims, testID); err != nil {
		return nil, err
	}
	if err := s.ensureEditable(ctx, testID); err != nil {
		return nil, err
	}
	return s.question(ctx, testID, questionID)
}

func (s *TestService) question(ctx context.Context, testID, questionID int) (*model.Question, error) {
	q, err := s.questionRepo.GetForTest(ctx, testID, questionID)
	if err != nil {
		return nil, s.questionErr("get question", err)
	}
	return q, nil
}

func (s *TestService) questionErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// replaceOption returns a copy of opts with optionID rewritten from req, and
// the rewritten option. exclusive clears is_correct on every other option.
func replaceOption(opts []model.QuestionOption, optionID int, req model.OptionRequest, exclusive bool) ([]model.QuestionOption, model.QuestionOption, bool) {
	out := slices.Clone(opts)
	var updated model.QuestionOption
	found := false
	for i := range out {
		if out[i].ID != optionID {
			if exclusive {
				out[i].IsCorrect = false
			}
			continue
		}
		out[i].OptionText = req.OptionText
		out[i].IsCorrect = req.IsCorrect
		if req.OrderIndex != nil {
			out[i].OrderIndex = *req.OrderIndex
		}
		updated = out[i]
		found = true
	}
	return out, updated, found
}

// checkOptions applies the question type rules to an edited option set.
func checkOptions(qt model.QuestionType, opts []model.QuestionOption) error {
	if !qt.HasOptions() {
		return ErrInvalidQuestion
	}
	req := model.AddQuestionRequest{QuestionType: qt}
	for _, o := range opts {
		req.Options = append(req.Options, model.AddOptionRequest{OptionText: o.OptionText, IsCorrect: o.IsCorrect})
	}
	return ValidateQuestion(req)
}

// ValidateQuestion checks the structural rules of each question type.
func ValidateQuestion(req model.AddQuestionRequest) error {
	correct := 0
	for _, o := range req.Options {
		if o.IsCorrect {
			correct++
		}
	}

	switch req.QuestionType {
	case model.QuestionTypeMultipleChoice:
		if len(req.Options) < 2 || correct == 0 || len(req.AcceptedAnswers) > 0 {
			return ErrInvalidQuestion
		}
	case model.QuestionTypeTrueFalse:
		if len(req.Options) != 2 || correct != 1 || len(req.AcceptedAnswers) > 0 {
			return ErrInvalidQuestion
		}
	case model.QuestionTypeShortAnswer:
		if len(req.Options) > 0 || len(req.AcceptedAnswers) == 0 {
			return ErrInvalidQuestion
		}
	default:
		return ErrInvalidQuestion
	}
	return nil
}

func (s *TestService) invalidateQuestions(ctx context.Context, testID int) {
	if err := s.rdb.Del(ctx, config.CacheKey.TestQuestionsKey(testID)).Err(); err != nil {
		s.log.Warn().Err(err).Int("test_id", testID).Msg("Question cache invalidation failed")
	}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
