package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// ErrResultNotReady is returned for a session that is still in progress.
var ErrResultNotReady = errors.New("result not ready")

// ResultJob is the payload queued when a result calculation has to be retried.
type ResultJob struct {
	SessionID int `json:"session_id"`
	Attempt   int `json:"attempt"`
}

// ResultService calculates and serves test results.
type ResultService struct {
	resultRepo   *repository.ResultRepository
	sessionRepo  *repository.SessionRepository
	answerRepo   *repository.AnswerRepository
	questionRepo *repository.QuestionRepository
	testRepo     *repository.TestRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(
	resultRepo *repository.ResultRepository,
	sessionRepo *repository.SessionRepository,
	answerRepo *repository.AnswerRepository,
	questionRepo *repository.QuestionRepository,
	testRepo *repository.TestRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ResultService {
	return &ResultService{
		resultRepo:   resultRepo,
		sessionRepo:  sessionRepo,
		answerRepo:   answerRepo,
		questionRepo: questionRepo,
		testRepo:     testRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "result_service").Logger(),
	}
}

// Calculate grades a terminal session and stores the result. Calling it again
// for the same session returns the stored result.
func (s *ResultService) Calculate(ctx context.Context, sessionID int) (*model.TestResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s.calculateFor(ctx, session)
}

func (s *ResultService) calculateFor(ctx context.Context, session *model.TestSession) (*model.TestResult, error) {
	if !session.Status.IsTerminal() {
		return nil, ErrResultNotReady
	}

	test, err := s.testRepo.GetByID(ctx, session.TestID)
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	answers, err := s.answerRepo.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	completedAt := time.Now()
	if session.SubmittedAt != nil {
		completedAt = *session.SubmittedAt
	}

	res := CalculateResult(test, session, test.QuestionCount, answers, completedAt)
	stored, err := s.resultRepo.Create(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}
	return stored, nil
}

// Enqueue schedules a background retry of a result calculation.
func (s *ResultService) Enqueue(ctx context.Context, job ResultJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, config.WorkerKey.CalculateResultsQueue, payload).Err()
}

// CalculateOrEnqueue calculates the result now and queues a retry on failure.
func (s *ResultService) CalculateOrEnqueue(ctx context.Context, session *model.TestSession) {
	if _, err := s.calculateFor(ctx, session); err != nil {
		s.log.Error().Err(err).Int("session_id", session.ID).Msg("Result calculation failed, queueing retry")
		if qErr := s.Enqueue(ctx, ResultJob{SessionID: session.ID, Attempt: 1}); qErr != nil {
			s.log.Error().Err(qErr).Int("session_id", session.ID).Msg("Failed to queue result retry")
		}
	}
}

// GetForSession returns the result of a session owned by the caller, or of
// any session for teachers and admins. A terminal session whose result is
// missing is graded on the spot.
func (s *ResultService) GetForSession(ctx context.Context, claims *Claims, sessionID int) (*model.TestResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.UserID != claims.UserID && !claims.Role.CanManageTests() {
		return nil, model.ErrNotFound
	}

	res, err := s.resultRepo.GetBySession(ctx, sessionID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return s.calculateFor(ctx, session)
}

// Get returns a result by ID under the same visibility rule as GetForSession.
func (s *ResultService) Get(ctx context.Context, claims *Claims, id int) (*model.TestResult, error) {
	res, err := s.resultRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	if res.UserID != claims.UserID && !claims.Role.CanManageTests() {
		return nil, model.ErrNotFound
	}
	return res, nil
}

// ListMine returns the caller's results.
func (s *ResultService) ListMine(ctx context.Context, userID int) ([]model.TestResult, error) {
	return s.resultRepo.ListByUser(ctx, userID)
}

// ListByTest returns every result of a test.
func (s *ResultService) ListByTest(ctx context.Context, testID int) ([]model.TestResult, error) {
	return s.resultRepo.ListByTest(ctx, testID)
}

// Statistics aggregates a test's attempts and results.
func (s *ResultService) Statistics(ctx context.Context, testID int) (*model.TestStatistics, error) {
	return s.resultRepo.Statistics(ctx, testID)
}
