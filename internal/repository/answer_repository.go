package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// AnswerRepository handles user answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert writes the answer for (session, question); the last write wins.
// The write only lands while the session is still in progress and inside
// its expiry, so a late autosave racing a submit is rejected with
// pgx.ErrNoRows. The session row is share-locked, so Finalize waits for an
// in-flight upsert and an upsert queued behind Finalize sees the new status.
func (r *AnswerRepository) Upsert(ctx context.Context, a *model.UserAnswer) error {
	return r.pool.QueryRow(ctx,
		`WITH live AS (
		     SELECT id FROM test_sessions
		     WHERE id = $1 AND status = 'in_progress' AND expires_at > NOW()
		     FOR SHARE
		 )
		 INSERT INTO user_answers (session_id, question_id, answer_text, selected_option_id, is_correct, marks_awarded, answered_at)
		 SELECT live.id, $2::int, $3::text, $4::int, $5::boolean, $6::int, NOW()
		 FROM live
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET answer_text = EXCLUDED.answer_text,
		     selected_option_id = EXCLUDED.selected_option_id,
		     is_correct = EXCLUDED.is_correct,
		     marks_awarded = EXCLUDED.marks_awarded,
		     answered_at = EXCLUDED.answered_at
		 RETURNING id, answered_at`,
		a.SessionID, a.QuestionID, a.AnswerText, a.SelectedOptionID, a.IsCorrect, a.MarksAwarded,
	).Scan(&a.ID, &a.AnsweredAt)
}

// ListBySession returns every stored answer of a session.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID int) ([]model.UserAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, question_id, answer_text, selected_option_id, is_correct, marks_awarded, answered_at
		 FROM user_answers
		 WHERE session_id = $1
		 ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.UserAnswer, error) {
		var a model.UserAnswer
		err := row.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.AnswerText, &a.SelectedOptionID,
			&a.IsCorrect, &a.MarksAwarded, &a.AnsweredAt)
		return a, err
	})
}
