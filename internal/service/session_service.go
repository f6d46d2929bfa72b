package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// ErrInvalidProgress is returned for a question index outside the test.
var ErrInvalidProgress = errors.New("question index out of range")

// answeredKeyGrace keeps the live answered set around briefly after expiry.
const answeredKeyGrace = time.Hour

// SessionService implements the session store: start/resume, autosave,
// progress and submission. Every mutating call re-checks the stored status
// and expires_at, so a stale client can never write after the deadline.
type SessionService struct {
	sessionRepo   *repository.SessionRepository
	answerRepo    *repository.AnswerRepository
	questionRepo  *repository.QuestionRepository
	testRepo      *repository.TestRepository
	resultService *ResultService
	monitor       *MonitorService
	rdb           *redis.Client
	log           zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessionRepo *repository.SessionRepository,
	answerRepo *repository.AnswerRepository,
	questionRepo *repository.QuestionRepository,
	testRepo *repository.TestRepository,
	resultService *ResultService,
	monitor *MonitorService,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo:   sessionRepo,
		answerRepo:    answerRepo,
		questionRepo:  questionRepo,
		testRepo:      testRepo,
		resultService: resultService,
		monitor:       monitor,
		rdb:           rdb,
		log:           log.With().Str("component", "session_service").Logger(),
	}
}

// Start resumes the caller's live attempt at a test or creates a new one.
// New attempts are started immediately with expires_at = now + duration.
func (s *SessionService) Start(ctx context.Context, userID, testID int) (*model.SessionState, error) {
	test, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	now := time.Now()

	live, err := s.sessionRepo.GetLive(ctx, userID, testID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check live session: %w", err)
	}
	if live != nil {
		switch {
		case live.Status == model.SessionStatusInProgress && !live.IsExpired(now):
			metrics.SessionsStarted.WithLabelValues("resumed").Inc()
			s.log.Info().Int("session_id", live.ID).Int("user_id", userID).Msg("Session resumed")
			return stateOf(live, now), nil
		case live.Status == model.SessionStatusNotStarted && test.IsAvailable(now):
			begun, err := s.sessionRepo.Begin(ctx, live.ID, now, now.Add(test.Duration()))
			if err != nil {
				return nil, fmt.Errorf("begin session: %w", err)
			}
			s.started(ctx, begun, "new")
			return stateOf(begun, now), nil
		default:
			// Overdue attempt: close it out before a fresh one can begin.
			if _, err := s.finalize(ctx, live, now); err != nil {
				return nil, err
			}
		}
	}

	if !test.IsAvailable(now) {
		return nil, model.ErrTestNotAvailable
	}
	if test.QuestionCount == 0 {
		return nil, ErrNoQuestions
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	session := &model.TestSession{
		TestID:       testID,
		UserID:       userID,
		SessionToken: token,
		Status:       model.SessionStatusInProgress,
		StartedAt:    &now,
		ExpiresAt:    now.Add(test.Duration()),
	}

	if err := s.sessionRepo.CreateStarted(ctx, session); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start for the same user and test.
			existing, fetchErr := s.sessionRepo.GetLive(ctx, userID, testID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return stateOf(existing, time.Now()), nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.started(ctx, session, "new")
	return stateOf(session, now), nil
}

func (s *SessionService) started(ctx context.Context, session *model.TestSession, kind string) {
	metrics.SessionsStarted.WithLabelValues(kind).Inc()
	s.log.Info().
		Int("session_id", session.ID).
		Int("test_id", session.TestID).
		Int("user_id", session.UserID).
		Time("expires_at", session.ExpiresAt).
		Msg("Session started")
	s.monitor.Publish(ctx, MonitorEvent{
		Type:      EventSessionStarted,
		TestID:    session.TestID,
		SessionID: session.ID,
		UserID:    session.UserID,
		Status:    session.Status,
	})
}

// Get returns the caller's session with the server-computed remaining time.
// An overdue in-progress session is expired on read.
func (s *SessionService) Get(ctx context.Context, userID int, token string) (*model.SessionState, error) {
	session, err := s.resolve(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	return stateOf(session, time.Now()), nil
}

// SubmitAnswer grades and upserts one answer of an active session.
func (s *SessionService) SubmitAnswer(ctx context.Context, userID int, token string, req model.SubmitAnswerRequest) (*model.UserAnswer, error) {
	session, err := s.resolve(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if !session.IsActive(time.Now()) {
		metrics.AnswersSaved.WithLabelValues("not_active").Inc()
		return nil, model.ErrSessionNotActive
	}

	question, err := s.questionRepo.GetForTest(ctx, session.TestID, req.QuestionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			metrics.AnswersSaved.WithLabelValues("invalid").Inc()
			return nil, model.ErrInvalidAnswer
		}
		return nil, fmt.Errorf("get question: %w", err)
	}

	answer := &model.UserAnswer{
		SessionID:        session.ID,
		QuestionID:       question.ID,
		AnswerText:       req.AnswerText,
		SelectedOptionID: req.SelectedOptionID,
	}
	if err := GradeAnswer(question, answer); err != nil {
		metrics.AnswersSaved.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := s.answerRepo.Upsert(ctx, answer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			metrics.AnswersSaved.WithLabelValues("not_active").Inc()
			return nil, model.ErrSessionNotActive
		}
		return nil, fmt.Errorf("upsert answer: %w", err)
	}
	metrics.AnswersSaved.WithLabelValues("stored").Inc()

	s.trackAnswered(ctx, session, answer)
	s.monitor.Publish(ctx, MonitorEvent{
		Type:       EventAnswerSaved,
		TestID:     session.TestID,
		SessionID:  session.ID,
		UserID:     session.UserID,
		QuestionID: answer.QuestionID,
	})
	return answer, nil
}

// trackAnswered mirrors the answered set into Redis for the live monitor.
func (s *SessionService) trackAnswered(ctx context.Context, session *model.TestSession, answer *model.UserAnswer) {
	key := config.CacheKey.SessionAnsweredKey(session.ID)
	pipe := s.rdb.TxPipeline()
	if answer.HasContent() {
		pipe.SAdd(ctx, key, answer.QuestionID)
	} else {
		pipe.SRem(ctx, key, answer.QuestionID)
	}
	pipe.ExpireAt(ctx, key, session.ExpiresAt.Add(answeredKeyGrace))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Int("session_id", session.ID).Msg("Answered set update failed")
	}
}

// ListAnswers returns every stored answer of the caller's session.
func (s *SessionService) ListAnswers(ctx context.Context, userID int, token string) ([]model.UserAnswer, error) {
	session, err := s.resolve(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	return s.answerRepo.ListBySession(ctx, session.ID)
}

// UpdateProgress records the last acknowledged question index.
func (s *SessionService) UpdateProgress(ctx context.Context, userID int, token string, index int) error {
	session, err := s.resolve(ctx, userID, token)
	if err != nil {
		return err
	}
	now := time.Now()
	if !session.IsActive(now) {
		return model.ErrSessionNotActive
	}

	test, err := s.testRepo.GetByID(ctx, session.TestID)
	if err != nil {
		return fmt.Errorf("get test: %w", err)
	}
	if index < 0 || index >= test.QuestionCount {
		return ErrInvalidProgress
	}

	if err := s.sessionRepo.UpdateProgress(ctx, session.ID, index, now); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrSessionNotActive
		}
		return fmt.Errorf("update progress: %w", err)
	}

	s.monitor.Publish(ctx, MonitorEvent{
		Type:          EventProgress,
		TestID:        session.TestID,
		SessionID:     session.ID,
		UserID:        session.UserID,
		QuestionIndex: &index,
	})
	return nil
}

// Submit finalizes the caller's session. It is idempotent: a session that is
// already terminal is returned unchanged. A session past its expiry is
// finalized as expired rather than submitted.
func (s *SessionService) Submit(ctx context.Context, userID int, token string) (*model.TestSession, error) {
	session, err := s.byToken(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return session, nil
	}
	return s.finalize(ctx, session, time.Now())
}

// ListMine returns the caller's sessions.
func (s *SessionService) ListMine(ctx context.Context, userID int) ([]model.TestSession, error) {
	return s.sessionRepo.ListByUser(ctx, userID)
}

// Finalized is called for sessions finalized outside this service, such as
// by the expiry sweep.
func (s *SessionService) Finalized(ctx context.Context, session *model.TestSession) {
	metrics.SessionsFinalized.WithLabelValues(string(session.Status)).Inc()
	s.resultService.CalculateOrEnqueue(ctx, session)
	s.afterFinalize(ctx, session)
}

// finalize moves session to submitted, or to expired when now is past its
// expiry, and calculates the result.
func (s *SessionService) finalize(ctx context.Context, session *model.TestSession, now time.Time) (*model.TestSession, error) {
	status := model.SessionStatusSubmitted
	at := now
	if session.IsExpired(now) {
		status = model.SessionStatusExpired
		at = session.ExpiresAt
	}

	done, err := s.sessionRepo.Finalize(ctx, session.ID, status, at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Finalized concurrently; report the stored state.
			current, fetchErr := s.sessionRepo.GetByID(ctx, session.ID)
			if fetchErr != nil {
				return nil, fmt.Errorf("fetch finalized session: %w", fetchErr)
			}
			return current, nil
		}
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	s.log.Info().
		Int("session_id", done.ID).
		Int("user_id", done.UserID).
		Str("status", string(done.Status)).
		Msg("Session finalized")

	s.Finalized(ctx, done)
	return done, nil
}

func (s *SessionService) afterFinalize(ctx context.Context, session *model.TestSession) {
	s.monitor.Publish(ctx, MonitorEvent{
		Type:      EventSessionFinalized,
		TestID:    session.TestID,
		SessionID: session.ID,
		UserID:    session.UserID,
		Status:    session.Status,
	})
}

// byToken loads a session owned by userID. Sessions owned by someone else
// are reported as not found.
func (s *SessionService) byToken(ctx context.Context, userID int, token string) (*model.TestSession, error) {
	session, err := s.sessionRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.UserID != userID {
		return nil, model.ErrNotFound
	}
	return session, nil
}

// resolve is byToken plus lazy expiry of an overdue in-progress session.
func (s *SessionService) resolve(ctx context.Context, userID int, token string) (*model.TestSession, error) {
	session, err := s.byToken(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if session.Status == model.SessionStatusInProgress && session.IsExpired(now) {
		return s.finalize(ctx, session, now)
	}
	return session, nil
}

func stateOf(session *model.TestSession, now time.Time) *model.SessionState {
	return &model.SessionState{
		TestSession:          *session,
		RemainingTimeSeconds: session.RemainingSeconds(now),
	}
}

// generateSessionToken returns 32 random bytes, hex encoded.
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
