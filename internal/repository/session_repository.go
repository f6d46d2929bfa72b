package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// SessionRepository handles test session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, test_id, user_id, session_token, status, started_at, submitted_at,
	expires_at, current_question_index, created_at, updated_at`

func scanSession(row pgx.Row) (*model.TestSession, error) {
	s := &model.TestSession{}
	err := row.Scan(&s.ID, &s.TestID, &s.UserID, &s.SessionToken, &s.Status, &s.StartedAt, &s.SubmittedAt,
		&s.ExpiresAt, &s.CurrentQuestionIndex, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByToken retrieves a session by its secret token.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*model.TestSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE session_token = $1`, token))
}

// GetByID retrieves a session by ID.
func (r *SessionRepository) GetByID(ctx context.Context, id int) (*model.TestSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, id))
}

// GetLive returns the user's non-terminal attempt at a test, if any.
func (r *SessionRepository) GetLive(ctx context.Context, userID, testID int) (*model.TestSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM test_sessions
		 WHERE user_id = $1 AND test_id = $2 AND status IN ('not_started', 'in_progress')
		 ORDER BY created_at DESC
		 LIMIT 1`, userID, testID))
}

// CreateStarted inserts a session that is already in progress. A concurrent
// start for the same user and test loses the race and gets pgx.ErrNoRows.
func (r *SessionRepository) CreateStarted(ctx context.Context, s *model.TestSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO test_sessions (test_id, user_id, session_token, status, started_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, test_id) WHERE status IN ('not_started', 'in_progress') DO NOTHING
		 RETURNING id, current_question_index, created_at, updated_at`,
		s.TestID, s.UserID, s.SessionToken, s.Status, s.StartedAt, s.ExpiresAt,
	).Scan(&s.ID, &s.CurrentQuestionIndex, &s.CreatedAt, &s.UpdatedAt)
}

// Begin moves a not_started session to in_progress.
func (r *SessionRepository) Begin(ctx context.Context, id int, startedAt, expiresAt time.Time) (*model.TestSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET status = 'in_progress', started_at = $2, expires_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'not_started'
		 RETURNING `+sessionColumns, id, startedAt, expiresAt))
}

// UpdateProgress stores the current question index of an active session.
// Returns pgx.ErrNoRows when the session is not in progress or has expired.
func (r *SessionRepository) UpdateProgress(ctx context.Context, id, index int, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE test_sessions
		 SET current_question_index = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress' AND expires_at > $3`, id, index, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Finalize moves an in-progress session to a terminal status. Returns
// pgx.ErrNoRows when the session was already finalized.
func (r *SessionRepository) Finalize(ctx context.Context, id int, status model.SessionStatus, at time.Time) (*model.TestSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET status = $2, submitted_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status IN ('not_started', 'in_progress')
		 RETURNING `+sessionColumns, id, status, at))
}

// ExpireOverdue marks every in-progress session whose expiry has passed as
// expired and returns the affected sessions.
func (r *SessionRepository) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]model.TestSession, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE test_sessions
		 SET status = 'expired', submitted_at = expires_at, updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM test_sessions
		     WHERE status = 'in_progress' AND expires_at <= $1
		     ORDER BY expires_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+sessionColumns, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TestSession, error) {
		s, err := scanSession(row)
		if err != nil {
			return model.TestSession{}, err
		}
		return *s, nil
	})
}

// ListByUser returns all of a user's sessions, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int) ([]model.TestSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM test_sessions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TestSession, error) {
		s, err := scanSession(row)
		if err != nil {
			return model.TestSession{}, err
		}
		return *s, nil
	})
}
